// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/freenet/ghostkey/cmd/ghostkey/cli"
	"github.com/freenet/ghostkey/lib/armor"
	"github.com/freenet/ghostkey/lib/config"
	"github.com/freenet/ghostkey/lib/delegatestore"
	"github.com/freenet/ghostkey/lib/errkind"
	"github.com/freenet/ghostkey/lib/ghostkey"
	"github.com/freenet/ghostkey/lib/issuance"
	"github.com/freenet/ghostkey/lib/payment"
	"github.com/freenet/ghostkey/lib/ratelimit"
	"github.com/freenet/ghostkey/lib/redemption"
	"github.com/freenet/ghostkey/lib/service"
	"github.com/freenet/ghostkey/lib/testutil"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func ghostkeyRun(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func mustSucceed(t *testing.T, args ...string) result {
	t.Helper()
	r := ghostkeyRun(t, args...)
	if r.code != 0 {
		t.Fatalf("ghostkey %s: exit %d\nstderr: %s", strings.Join(args, " "), r.code, r.stderr)
	}
	return r
}

func wantExit(t *testing.T, r result, kind errkind.Kind) {
	t.Helper()
	if want := exitCode(kind); r.code != want {
		t.Fatalf("exit code = %d, want %d (%v)\nstderr: %s", r.code, want, kind, r.stderr)
	}
}

// operator lays out a master key pair and a plain delegate pair.
type operator struct {
	masterDir   string
	delegateDir string
}

func (o operator) signingKey() string   { return filepath.Join(o.masterDir, masterSigningKeyFile) }
func (o operator) verifyingKey() string { return filepath.Join(o.masterDir, masterVerifyingKeyFile) }

func newOperator(t *testing.T) operator {
	t.Helper()
	root := t.TempDir()
	o := operator{masterDir: filepath.Join(root, "master"), delegateDir: filepath.Join(root, "delegate")}
	mustSucceed(t, "generate-master-key", "--output-dir", o.masterDir)
	mustSucceed(t, "generate-delegate",
		"--master-signing-key", o.signingKey(),
		"--info", "tier:20",
		"--output-dir", o.delegateDir)
	return o
}

func TestExitCodesDistinct(t *testing.T) {
	kinds := []errkind.Kind{
		errkind.Unknown, errkind.KeyCreation, errkind.Signature, errkind.SignatureVerification,
		errkind.Serialization, errkind.Deserialization, errkind.Base64Decode, errkind.Armor,
		errkind.RateLimited, errkind.AlreadySigned, errkind.PaymentNotSuccessful,
		errkind.PaymentMethodMissing, errkind.Payment, errkind.Key, errkind.InvalidInput, errkind.IO,
	}
	seen := make(map[int]errkind.Kind)
	for _, kind := range kinds {
		code := exitCode(kind)
		if code == 0 {
			t.Errorf("%v maps to exit code 0", kind)
		}
		if previous, ok := seen[code]; ok {
			t.Errorf("%v and %v share exit code %d", previous, kind, code)
		}
		seen[code] = kind
	}
	if exitCode(errkind.InvalidInput) != cli.UsageExitCode {
		t.Errorf("InvalidInput exit code %d differs from usage errors (%d)", exitCode(errkind.InvalidInput), cli.UsageExitCode)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		kind errkind.Kind
		want string
	}{
		{errkind.Armor, "certificate could not be decoded"},
		{errkind.Base64Decode, "certificate could not be decoded"},
		{errkind.Deserialization, "certificate could not be decoded"},
		{errkind.Signature, "signature invalid"},
		{errkind.SignatureVerification, "signature invalid"},
		{errkind.KeyCreation, "key material invalid"},
		{errkind.IO, ""},
		{errkind.RateLimited, ""},
	}
	for _, test := range tests {
		if got := classify(test.kind); got != test.want {
			t.Errorf("classify(%v) = %q, want %q", test.kind, got, test.want)
		}
	}
}

func TestMasterKeyFiles(t *testing.T) {
	dir := t.TempDir()
	mustSucceed(t, "generate-master-key", "--output-dir", dir)

	info, err := os.Stat(filepath.Join(dir, masterSigningKeyFile))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("signing key mode = %04o, want 0600", info.Mode().Perm())
	}
	if _, err := armor.ReadFile[ghostkey.MasterVerifyingKey](filepath.Join(dir, masterVerifyingKeyFile)); err != nil {
		t.Errorf("verifying key unreadable: %v", err)
	}

	r := ghostkeyRun(t, "generate-master-key", "--output-dir", dir)
	wantExit(t, r, errkind.IO)
	if !strings.Contains(r.stderr, "already exists") {
		t.Errorf("stderr = %q, want refusal to overwrite", r.stderr)
	}
}

func TestDelegateAndGhostKeyLifecycle(t *testing.T) {
	o := newOperator(t)

	r := mustSucceed(t, "verify-delegate",
		"--master-verifying-key", o.verifyingKey(),
		"--delegate-certificate", filepath.Join(o.delegateDir, delegateCertificate))
	if !strings.Contains(r.stdout, "verified") || !strings.Contains(r.stdout, "Info: tier:20") {
		t.Errorf("verify-delegate output = %q", r.stdout)
	}

	ghostDir := filepath.Join(t.TempDir(), "ghost")
	mustSucceed(t, "generate-ghost-key",
		"--delegate-dir", o.delegateDir,
		"--master-verifying-key", o.verifyingKey(),
		"--output-dir", ghostDir)
	keyInfo, err := os.Stat(filepath.Join(ghostDir, ghostSigningKeyFile))
	if err != nil || keyInfo.Mode().Perm() != 0o600 {
		t.Fatalf("ghost signing key: %v, mode %v", err, keyInfo)
	}

	certificatePath := filepath.Join(ghostDir, ghostCertificateFile)
	r = mustSucceed(t, "verify-ghost-key",
		"--master-verifying-key", o.verifyingKey(),
		"--ghost-certificate", certificatePath)
	if !strings.Contains(r.stdout, "Ghost key certificate verified") || !strings.Contains(r.stdout, "Info: tier:20") {
		t.Errorf("verify-ghost-key output = %q", r.stdout)
	}

	other := newOperator(t)
	r = ghostkeyRun(t, "verify-ghost-key",
		"--master-verifying-key", other.verifyingKey(),
		"--ghost-certificate", certificatePath)
	wantExit(t, r, errkind.SignatureVerification)
	if !strings.Contains(r.stderr, "signature invalid") {
		t.Errorf("stderr = %q, want classification", r.stderr)
	}
}

func TestSignAndVerifyMessage(t *testing.T) {
	o := newOperator(t)
	ghostDir := filepath.Join(t.TempDir(), "ghost")
	mustSucceed(t, "generate-ghost-key", "--delegate-dir", o.delegateDir, "--output-dir", ghostDir)
	certificate := filepath.Join(ghostDir, ghostCertificateFile)
	signingKey := filepath.Join(ghostDir, ghostSigningKeyFile)

	signedPath := filepath.Join(t.TempDir(), "signed.pem")
	mustSucceed(t, "sign-message",
		"--ghost-certificate", certificate,
		"--ghost-signing-key", signingKey,
		"--message", "hello freenet",
		"--output", signedPath)

	r := mustSucceed(t, "verify-signed-message",
		"--master-verifying-key", o.verifyingKey(),
		"--signed-message", signedPath)
	if r.stdout != "hello freenet" {
		t.Errorf("stdout = %q, want the message alone", r.stdout)
	}
	if !strings.Contains(r.stderr, "Info: tier:20") {
		t.Errorf("stderr = %q, want verification summary", r.stderr)
	}

	messageFile := filepath.Join(t.TempDir(), "message.txt")
	if err := os.WriteFile(messageFile, []byte("from a file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fromFile := filepath.Join(t.TempDir(), "signed.pem")
	mustSucceed(t, "sign-message",
		"--ghost-certificate", certificate,
		"--ghost-signing-key", signingKey,
		"--message", messageFile,
		"--output", fromFile)
	extracted := filepath.Join(t.TempDir(), "out.txt")
	r = mustSucceed(t, "verify-signed-message",
		"--master-verifying-key", o.verifyingKey(),
		"--signed-message", fromFile,
		"--output", extracted)
	if content, _ := os.ReadFile(extracted); string(content) != "from a file\n" {
		t.Errorf("extracted message = %q", content)
	}
	if !strings.Contains(r.stdout, "Signed message verified") {
		t.Errorf("stdout = %q", r.stdout)
	}

	signed, err := armor.ReadFile[ghostkey.SignedMessage](signedPath)
	if err != nil {
		t.Fatal(err)
	}
	signed.Message = []byte("hello freenEt")
	tampered := filepath.Join(t.TempDir(), "tampered.pem")
	if err := armor.WriteFile(tampered, signed, 0o644); err != nil {
		t.Fatal(err)
	}
	r = ghostkeyRun(t, "verify-signed-message",
		"--master-verifying-key", o.verifyingKey(),
		"--signed-message", tampered)
	wantExit(t, r, errkind.SignatureVerification)
	if r.stdout != "" {
		t.Errorf("tampered message leaked to stdout: %q", r.stdout)
	}
}

func TestSigningKeyPermissions(t *testing.T) {
	o := newOperator(t)
	ghostDir := filepath.Join(t.TempDir(), "ghost")
	mustSucceed(t, "generate-ghost-key", "--delegate-dir", o.delegateDir, "--output-dir", ghostDir)
	signingKey := filepath.Join(ghostDir, ghostSigningKeyFile)
	if err := os.Chmod(signingKey, 0o644); err != nil {
		t.Fatal(err)
	}

	args := []string{"sign-message",
		"--ghost-certificate", filepath.Join(ghostDir, ghostCertificateFile),
		"--ghost-signing-key", signingKey,
		"--message", "m",
	}
	r := ghostkeyRun(t, append(args, "--output", filepath.Join(t.TempDir(), "a.pem"))...)
	wantExit(t, r, errkind.Key)
	if !strings.Contains(r.stderr, "chmod 600") {
		t.Errorf("stderr = %q, want chmod hint", r.stderr)
	}
	mustSucceed(t, append(args, "--output", filepath.Join(t.TempDir(), "b.pem"), "--ignore-permissions")...)

	if err := os.Chmod(o.signingKey(), 0o640); err != nil {
		t.Fatal(err)
	}
	r = ghostkeyRun(t, "generate-delegate",
		"--master-signing-key", o.signingKey(),
		"--info", "tier:5",
		"--output-dir", t.TempDir())
	wantExit(t, r, errkind.Key)
}

func TestDecodeFailures(t *testing.T) {
	o := newOperator(t)
	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not armor at all\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := ghostkeyRun(t, "verify-ghost-key", "--master-verifying-key", o.verifyingKey(), "--ghost-certificate", garbage)
	wantExit(t, r, errkind.Armor)
	if !strings.Contains(r.stderr, "certificate could not be decoded") {
		t.Errorf("stderr = %q", r.stderr)
	}

	badBody := filepath.Join(t.TempDir(), "bad.pem")
	label := armor.Label[ghostkey.GhostKeyCertificate]()
	block := "-----BEGIN " + label + "-----\n!!!!\n-----END " + label + "-----\n"
	if err := os.WriteFile(badBody, []byte(block), 0o644); err != nil {
		t.Fatal(err)
	}
	r = ghostkeyRun(t, "verify-ghost-key", "--master-verifying-key", o.verifyingKey(), "--ghost-certificate", badBody)
	wantExit(t, r, errkind.Base64Decode)

	r = ghostkeyRun(t, "verify-ghost-key", "--master-verifying-key", o.verifyingKey(),
		"--ghost-certificate", filepath.Join(t.TempDir(), "missing.pem"))
	wantExit(t, r, errkind.IO)
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"verify-gost-key"},
		{"generate-master-key", "--ouput-dir", "x"},
		{"generate-master-key"},
		{"generate-age-identity"},
		{"verify-ghost-key", "--ghost-certificate", "x.pem"},
		{"generate-ghost-key", "--output-dir", "x"},
	} {
		r := ghostkeyRun(t, args...)
		if r.code != cli.UsageExitCode {
			t.Errorf("ghostkey %s: exit %d, want %d\nstderr: %s", strings.Join(args, " "), r.code, cli.UsageExitCode, r.stderr)
		}
	}
}

func TestSealedTierDelegate(t *testing.T) {
	o := newOperator(t)
	identityPath := filepath.Join(t.TempDir(), "issuer.age")
	r := mustSucceed(t, "generate-age-identity", "--output", identityPath)
	recipient := ageRecipient(t, r.stdout)
	info, err := os.Stat(identityPath)
	if err != nil {
		t.Fatalf("stat identity: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("identity mode = %o, want 600", perm)
	}
	wantExit(t, ghostkeyRun(t, "generate-age-identity", "--output", identityPath), errkind.IO)

	delegates := filepath.Join(t.TempDir(), "delegates")
	mustSucceed(t, "generate-delegate",
		"--master-signing-key", o.signingKey(),
		"--info", "tier:5",
		"--tier", "5",
		"--seal-to", recipient,
		"--output-dir", delegates)
	if _, err := os.Stat(delegatestore.SigningKeyPath(delegates, 5)); err != nil {
		t.Fatalf("tier key not in issuer layout: %v", err)
	}

	r = ghostkeyRun(t, "generate-ghost-key", "--delegate-dir", delegates, "--tier", "5", "--output-dir", t.TempDir())
	wantExit(t, r, errkind.Key)

	ghostDir := t.TempDir()
	mustSucceed(t, "generate-ghost-key",
		"--delegate-dir", delegates,
		"--tier", "5",
		"--age-identity", identityPath,
		"--master-verifying-key", o.verifyingKey(),
		"--output-dir", ghostDir)
	r = mustSucceed(t, "verify-ghost-key",
		"--master-verifying-key", o.verifyingKey(),
		"--ghost-certificate", filepath.Join(ghostDir, ghostCertificateFile))
	if !strings.Contains(r.stdout, "Info: tier:5") {
		t.Errorf("stdout = %q", r.stdout)
	}
}

// ageRecipient extracts the recipient printed by generate-age-identity.
func ageRecipient(t *testing.T, stdout string) string {
	t.Helper()
	for _, line := range strings.Split(stdout, "\n") {
		if recipient, ok := strings.CutPrefix(line, "Age recipient: "); ok {
			if !strings.HasPrefix(recipient, "age1") {
				t.Fatalf("recipient = %q, want age1 prefix", recipient)
			}
			return recipient
		}
	}
	t.Fatalf("no recipient in output %q", stdout)
	return ""
}

func writeSalt(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "salt")
	if err := os.WriteFile(path, []byte("cli-test-salt\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHashRequester(t *testing.T) {
	salt := writeSalt(t)
	first := mustSucceed(t, "hash-requester", "--salt-file", salt, "203.0.113.7")
	second := mustSucceed(t, "hash-requester", "--salt-file", salt, "203.0.113.7")
	hash := strings.TrimSpace(first.stdout)
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(hash) {
		t.Fatalf("hash = %q, want 64 hex characters", hash)
	}
	if first.stdout != second.stdout {
		t.Error("hash is not deterministic")
	}
	r := ghostkeyRun(t, "hash-requester", "--salt-file", salt)
	wantExit(t, r, errkind.InvalidInput)
}

func TestCheckConfig(t *testing.T) {
	o := newOperator(t)
	root := t.TempDir()
	delegates := filepath.Join(root, "delegates")
	for _, tier := range []string{"20", "50"} {
		mustSucceed(t, "generate-delegate",
			"--master-signing-key", o.signingKey(),
			"--info", "tier:"+tier,
			"--tier", tier,
			"--output-dir", delegates)
	}
	salt := writeSalt(t)
	exempt := strings.TrimSpace(mustSucceed(t, "hash-requester", "--salt-file", salt, "127.0.0.1").stdout)

	configPath := filepath.Join(root, "ghostkey.yaml")
	document := "environment: development\n" +
		"paths:\n" +
		"  root: " + root + "\n" +
		"  delegates: ${GHOSTKEY_ROOT}/delegates\n" +
		"  master_verifying_key: " + o.verifyingKey() + "\n" +
		"rate_limit:\n" +
		"  salt_file: " + salt + "\n" +
		"  exempt: [\"" + exempt + "\"]\n" +
		"burst:\n" +
		"  rate: 0.5\n" +
		"  burst: 3\n" +
		"payment:\n" +
		"  timeout: 4s\n"
	if err := os.WriteFile(configPath, []byte(document), 0o644); err != nil {
		t.Fatal(err)
	}

	r := mustSucceed(t, "check-config", "--config", configPath)
	for _, want := range []string{
		"Delegate tier 20: tier:20",
		"Delegate tier 50: tier:50",
		"0 authorizations claimed",
		"Burst limit: 0.5/s per requester, burst 3",
		"Payment timeout: 4s",
		"Configuration OK",
	} {
		if !strings.Contains(r.stdout, want) {
			t.Errorf("check-config output missing %q:\n%s", want, r.stdout)
		}
	}
	if strings.Contains(r.stdout+r.stderr, exempt) {
		t.Error("check-config printed an exempt hash")
	}

	t.Setenv("GHOSTKEY_CONFIG", configPath)
	mustSucceed(t, "check-config")

	production := strings.Replace(document, "environment: development", "environment: production", 1)
	if err := os.WriteFile(configPath, []byte(production), 0o644); err != nil {
		t.Fatal(err)
	}
	r = ghostkeyRun(t, "check-config", "--config", configPath)
	wantExit(t, r, errkind.InvalidInput)
	if !strings.Contains(r.stderr, "rate_limit.exempt must be empty in production") {
		t.Errorf("stderr = %q", r.stderr)
	}
}

func TestIssuanceConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Burst = config.BurstConfig{Rate: 2, Burst: 5, IdleTTL: time.Minute}
	cfg.Payment.Timeout = 3 * time.Second
	got := issuanceConfig(cfg, nil, nil, nil, nil, nil)
	want := issuance.BurstConfig{Rate: 2, Burst: 5, IdleTTL: time.Minute}
	if got.Burst != want {
		t.Errorf("Burst = %+v, want %+v", got.Burst, want)
	}
	if got.PaymentTimeout != 3*time.Second {
		t.Errorf("PaymentTimeout = %s, want 3s", got.PaymentTimeout)
	}

	cfg.Payment.Timeout = 0
	if got := issuanceConfig(cfg, nil, nil, nil, nil, nil); got.PaymentTimeout != issuance.DefaultPaymentTimeout {
		t.Errorf("zero timeout mapped to %s, want %s", got.PaymentTimeout, issuance.DefaultPaymentTimeout)
	}
}

// startIssuer serves an issuance service over delegates for the test.
func startIssuer(t *testing.T, delegates string, payments payment.Authorizer) string {
	t.Helper()
	store, err := delegatestore.Open(delegatestore.Config{Dir: delegates})
	if err != nil {
		t.Fatal(err)
	}
	hasher, err := ratelimit.NewHasher([]byte("cli-issuer-salt"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hasher.Close() })
	limiter, err := ratelimit.New(ratelimit.Config{
		Path:   filepath.Join(t.TempDir(), "rate_limits.json"),
		Hasher: hasher,
	})
	if err != nil {
		t.Fatal(err)
	}
	issuer, err := issuance.New(issuance.Config{
		Delegates: store,
		Limiter:   limiter,
		Ledger:    redemption.NewMemory(nil),
		Payments:  payments,
	})
	if err != nil {
		t.Fatal(err)
	}

	socketPath := testutil.SocketPath(t, "issuer.sock")
	server := service.NewSocketServer(socketPath, nil)
	issuer.Register(server)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, served, 5*time.Second, "issuer socket shutdown")
	})
	testutil.WaitForSocket(t, socketPath)
	return socketPath
}

func TestGenerateGhostKeyFromIssuer(t *testing.T) {
	o := newOperator(t)
	delegates := filepath.Join(t.TempDir(), "delegates")
	mustSucceed(t, "generate-delegate",
		"--master-signing-key", o.signingKey(),
		"--info", "tier:20",
		"--tier", "20",
		"--output-dir", delegates)
	payments := payment.NewMemory(payment.Authorization{ID: "pi_cli", Status: payment.Succeeded, AmountCents: 2000})
	socketPath := startIssuer(t, delegates, payments)

	args := []string{"generate-ghost-key",
		"--issuer-socket", socketPath,
		"--authorization", "pi_cli",
		"--tier", "20",
		"--requester", "203.0.113.7",
		"--master-verifying-key", o.verifyingKey(),
	}
	ghostDir := t.TempDir()
	mustSucceed(t, append(args, "--output-dir", ghostDir)...)
	r := mustSucceed(t, "verify-ghost-key",
		"--master-verifying-key", o.verifyingKey(),
		"--ghost-certificate", filepath.Join(ghostDir, ghostCertificateFile))
	if !strings.Contains(r.stdout, "Info: tier:20") {
		t.Errorf("stdout = %q", r.stdout)
	}

	r = ghostkeyRun(t, append(args, "--output-dir", t.TempDir())...)
	wantExit(t, r, errkind.AlreadySigned)
}
