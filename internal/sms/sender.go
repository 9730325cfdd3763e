package sms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender delivers a single text message and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

type messageAPI interface {
	CreateMessage(params *twapi.CreateMessageParams) (*twapi.ApiV2010Message, error)
}

type TwilioSender struct {
	api     messageAPI
	from    string
	backoff func() retry.Backoff
}

func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSender{api: client.Api, from: from, backoff: defaultBackoff}
}

func defaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(250*time.Millisecond))
}

// Send retries on Twilio 5xx and 429 responses; other errors fail at once.
func (s *TwilioSender) Send(ctx context.Context, to, body string) (string, error) {
	params := &twapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	var sid string
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		msg, err := s.api.CreateMessage(params)
		if err != nil {
			if retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		if msg.Sid != nil {
			sid = *msg.Sid
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("twilio send: %w", err)
	}
	return sid, nil
}

func retryable(err error) bool {
	var restErr *twclient.TwilioRestError
	if errors.As(err, &restErr) {
		return restErr.Status >= 500 || restErr.Status == 429
	}
	// transport failures carry no status
	return true
}
