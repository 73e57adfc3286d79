// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package issuance

import (
	"context"
	"time"

	"github.com/freenet/ghostkey/lib/armor"
	"github.com/freenet/ghostkey/lib/errkind"
	"github.com/freenet/ghostkey/lib/ghostkey"
	"github.com/freenet/ghostkey/lib/service"
)

// Socket actions served by Register.
const (
	ActionSignCertificate = "sign-certificate"
	ActionGetDelegate     = "get-delegate"
	ActionRetryAfter      = "retry-after"
)

type signCertificateRequest struct {
	AuthorizationID string `cbor:"authorization_id"`
	BlindedKey      string `cbor:"blinded_key"`
	Tier            int64  `cbor:"tier"`
	Requester       string `cbor:"requester"`
}

type signCertificateResponse struct {
	BlindSignature      string `cbor:"blind_signature"`
	DelegateCertificate string `cbor:"delegate_certificate"`
}

type getDelegateRequest struct {
	Tier int64 `cbor:"tier"`
}

// Only the certificate crosses the socket; the signing key never
// leaves the issuer process.
type getDelegateResponse struct {
	Certificate string `cbor:"certificate"`
	Info        string `cbor:"info"`
}

type retryAfterRequest struct {
	Requester string `cbor:"requester"`
}

type retryAfterResponse struct {
	Limited          bool  `cbor:"limited"`
	RetryAfterMillis int64 `cbor:"retry_after_ms"`
}

// Register installs the service's actions on server.
func (s *Service) Register(server *service.SocketServer) {
	server.Handle(ActionSignCertificate, func(ctx context.Context, raw []byte) (any, error) {
		var request signCertificateRequest
		if err := service.Decode(raw, &request); err != nil {
			return nil, err
		}
		response, err := s.SignCertificate(ctx, Request(request))
		if err != nil {
			return nil, err
		}
		return signCertificateResponse(*response), nil
	})

	server.Handle(ActionGetDelegate, func(ctx context.Context, raw []byte) (any, error) {
		var request getDelegateRequest
		if err := service.Decode(raw, &request); err != nil {
			return nil, err
		}
		delegate, err := s.DelegateCertificate(request.Tier)
		if err != nil {
			return nil, err
		}
		certificate, err := armor.Base64(*delegate)
		if err != nil {
			return nil, err
		}
		return getDelegateResponse{Certificate: certificate, Info: delegate.Payload.Info}, nil
	})

	server.Handle(ActionRetryAfter, func(ctx context.Context, raw []byte) (any, error) {
		var request retryAfterRequest
		if err := service.Decode(raw, &request); err != nil {
			return nil, err
		}
		if request.Requester == "" {
			return nil, errkind.Errorf(errkind.InvalidInput, "retry after", "requester key is required")
		}
		retryAfter, limited, err := s.RetryAfter(request.Requester)
		if err != nil {
			return nil, err
		}
		return retryAfterResponse{Limited: limited, RetryAfterMillis: retryAfter.Milliseconds()}, nil
	})
}

// Client calls a Service registered on an issuer socket.
type Client struct {
	client *service.Client
}

// NewClient returns a client for the issuer socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{client: service.NewClient(socketPath)}
}

// SignCertificate is Service.SignCertificate over the socket.
func (c *Client) SignCertificate(ctx context.Context, request Request) (*Response, error) {
	var response signCertificateResponse
	err := c.client.Call(ctx, ActionSignCertificate, map[string]any{
		"authorization_id": request.AuthorizationID,
		"blinded_key":      request.BlindedKey,
		"tier":             request.Tier,
		"requester":        request.Requester,
	}, &response)
	if err != nil {
		return nil, err
	}
	return &Response{
		BlindSignature:      response.BlindSignature,
		DelegateCertificate: response.DelegateCertificate,
	}, nil
}

// DelegateCertificate fetches a tier's delegate certificate.
func (c *Client) DelegateCertificate(ctx context.Context, tier int64) (*ghostkey.DelegateCertificate, error) {
	var response getDelegateResponse
	if err := c.client.Call(ctx, ActionGetDelegate, map[string]any{"tier": tier}, &response); err != nil {
		return nil, err
	}
	certificate, err := armor.FromBase64[ghostkey.DelegateCertificate](response.Certificate)
	if err != nil {
		return nil, err
	}
	return &certificate, nil
}

// RetryAfter is Service.RetryAfter over the socket.
func (c *Client) RetryAfter(ctx context.Context, requester string) (time.Duration, bool, error) {
	var response retryAfterResponse
	if err := c.client.Call(ctx, ActionRetryAfter, map[string]any{"requester": requester}, &response); err != nil {
		return 0, false, err
	}
	return time.Duration(response.RetryAfterMillis) * time.Millisecond, response.Limited, nil
}
