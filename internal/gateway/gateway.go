// Package gateway talks to the external payment provider over its REST API.
//
// The provider follows the redirect-confirmation flow: creating a payment
// returns a URL the customer is sent to, and the charge settles out of band.
// Payment ids are issued by the provider and stored as-is.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/dmarkhas/bookcart/internal/domain/payment"
)

// Config holds the provider credentials and endpoints.
type Config struct {
	BaseURL   string
	ShopID    string
	SecretKey string
	// ReturnURL is where the provider redirects the customer after the
	// confirmation page.
	ReturnURL string
}

// Client implements payment.Gateway against the provider's HTTP API.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ payment.Gateway = (*Client)(nil)

// NewClient builds a Client. The http.Client's timeout is left to the
// caller's context deadlines.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// CreatePayment registers a charge with the provider and returns the id and
// confirmation URL. The request carries an idempotence key so a retried call
// after a network error cannot double-charge.
func (c *Client) CreatePayment(ctx context.Context, req payment.Request) (*payment.Created, error) {
	body := encodeCreate(req, c.cfg.ReturnURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v3/payments", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.SetBasicAuth(c.cfg.ShopID, c.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", uuid.NewString())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "create payment")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("create payment: provider returned %d: %s", resp.StatusCode, providerError(raw))
	}

	var pr providerPayment
	if err := pr.decode(raw); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	if pr.ID == "" || pr.ConfirmationURL == "" {
		return nil, errors.New("create payment: provider response missing id or confirmation url")
	}
	return &payment.Created{
		PaymentID:   pr.ID,
		RedirectURL: pr.ConfirmationURL,
	}, nil
}

// GetStatus fetches the current settlement state of a payment.
func (c *Client) GetStatus(ctx context.Context, paymentID string) (payment.Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v3/payments/"+paymentID, nil)
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	httpReq.SetBasicAuth(c.cfg.ShopID, c.cfg.SecretKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "get payment")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "read response")
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", payment.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("get payment: provider returned %d: %s", resp.StatusCode, providerError(raw))
	}

	var pr providerPayment
	if err := pr.decode(raw); err != nil {
		return "", errors.Wrap(err, "decode response")
	}
	return mapStatus(pr.Status), nil
}

// mapStatus translates provider settlement states. Anything unrecognized is
// treated as still pending so the monitor keeps polling instead of settling
// on a state it does not understand.
func mapStatus(s string) payment.Status {
	switch s {
	case "succeeded":
		return payment.StatusSuccess
	case "canceled":
		return payment.StatusFailed
	default:
		return payment.StatusPending
	}
}

type providerPayment struct {
	ID              string
	Status          string
	ConfirmationURL string
}

func (p *providerPayment) decode(raw []byte) error {
	d := jx.DecodeBytes(raw)
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			if err != nil {
				return err
			}
			p.ID = v
		case "status":
			v, err := d.Str()
			if err != nil {
				return err
			}
			p.Status = v
		case "confirmation":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "confirmation_url" {
					return d.Skip()
				}
				v, err := d.Str()
				if err != nil {
					return err
				}
				p.ConfirmationURL = v
				return nil
			})
		default:
			return d.Skip()
		}
		return nil
	})
}

func encodeCreate(req payment.Request, returnURL string) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("amount")
	e.ObjStart()
	e.FieldStart("value")
	e.Str(req.Amount.StringFixed(2))
	e.FieldStart("currency")
	e.Str(req.Currency)
	e.ObjEnd()
	e.FieldStart("capture")
	e.Bool(true)
	e.FieldStart("confirmation")
	e.ObjStart()
	e.FieldStart("type")
	e.Str("redirect")
	e.FieldStart("return_url")
	e.Str(returnURL)
	e.ObjEnd()
	e.FieldStart("description")
	e.Str(req.Description)
	if req.CustomerID != nil {
		e.FieldStart("metadata")
		e.ObjStart()
		e.FieldStart("customer_id")
		e.Str(strconv.FormatInt(*req.CustomerID, 10))
		e.ObjEnd()
	}
	e.ObjEnd()
	return e.Bytes()
}

// providerError extracts the provider's error description for log and error
// messages, falling back to the raw body.
func providerError(raw []byte) string {
	var desc string
	d := jx.DecodeBytes(raw)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "description" {
			return d.Skip()
		}
		v, err := d.Str()
		if err != nil {
			return err
		}
		desc = v
		return nil
	})
	if err != nil || desc == "" {
		return string(raw)
	}
	return desc
}
