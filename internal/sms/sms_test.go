package sms

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twclient "github.com/twilio/twilio-go/client"
	twapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"pal-backend/internal/auth/authtest"
	"pal-backend/internal/models"
	"pal-backend/internal/notifications"
	"pal-backend/internal/testutil"
)

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, body string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, to+"|"+body)
	return "SM123", nil
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "(337) 555-0100", want: "+13375550100"},
		{in: "1-337-555-0100", want: "+13375550100"},
		{in: "+44 20 7946 0958", want: "+442079460958"},
		{in: "555-0100", err: true},
		{in: "", err: true},
		{in: "22-337-555-0100", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidPhone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendRequiresConsent(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	sender := &fakeSender{}
	svc := NewService(sender, zap.NewNop())

	_, err := svc.Send(context.Background(), f.ID, "337-555-0100", "hello")
	assert.ErrorIs(t, err, ErrConsentMissing)
	assert.Empty(t, sender.sent)

	_, err = SetConsent(db, "337-555-0100", &f.ID, true, SourceWebForm)
	require.NoError(t, err)

	n, err := svc.Send(context.Background(), f.ID, "(337) 555-0100", "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"+13375550100|hello"}, sender.sent)

	var stored models.Notification
	require.NoError(t, db.First(&stored, n.ID).Error)
	assert.Equal(t, models.NotificationSent, stored.Status)
	assert.Equal(t, "SM123", stored.ProviderID)
	assert.Equal(t, models.ChannelSMS, stored.Channel)
	assert.Equal(t, notifications.KindSMS, stored.Kind)
}

func TestSendFailureIsRecorded(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	_, err := SetConsent(db, "3375550100", &f.ID, true, SourceAdmin)
	require.NoError(t, err)

	svc := NewService(&fakeSender{err: errors.New("carrier rejected")}, zap.NewNop())
	n, err := svc.Send(context.Background(), f.ID, "3375550100", "hello")
	require.Error(t, err)
	require.NotNil(t, n)

	var stored models.Notification
	require.NoError(t, db.First(&stored, n.ID).Error)
	assert.Equal(t, models.NotificationFailed, stored.Status)
	assert.Contains(t, stored.Error, "carrier rejected")
}

func TestDisabledServiceStillChecksConsent(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	svc := NewService(nil, zap.NewNop())
	assert.False(t, svc.Enabled())

	_, err := svc.Send(context.Background(), f.ID, "3375550100", "hi")
	assert.ErrorIs(t, err, ErrConsentMissing)

	_, err = SetConsent(db, "3375550100", &f.ID, true, SourceAdmin)
	require.NoError(t, err)
	_, err = svc.Send(context.Background(), f.ID, "3375550100", "hi")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestSetConsentUpserts(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")

	_, err := SetConsent(db, "3375550100", &f.ID, true, SourceWebForm)
	require.NoError(t, err)
	row, err := SetConsent(db, "+1 337 555 0100", nil, false, SourceInbound)
	require.NoError(t, err)

	assert.False(t, row.OptedIn)
	assert.Equal(t, SourceInbound, row.Source)
	require.NotNil(t, row.FranchiseeID)
	assert.Equal(t, f.ID, *row.FranchiseeID)

	var count int64
	db.Model(&models.SMSConsent{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSetConsentKeepsOwner(t *testing.T) {
	db := testutil.SetupDB(t)
	a := testutil.CreateFranchisee(t, db, "Lafayette")
	b := testutil.CreateFranchisee(t, db, "Houma")

	_, err := SetConsent(db, "3375550100", &a.ID, true, SourceWebForm)
	require.NoError(t, err)

	_, err = SetConsent(db, "3375550100", &b.ID, false, SourceWebForm)
	assert.ErrorIs(t, err, ErrConsentOwned)

	var row models.SMSConsent
	require.NoError(t, db.Where("phone = ?", "+13375550100").First(&row).Error)
	require.NotNil(t, row.FranchiseeID)
	assert.Equal(t, a.ID, *row.FranchiseeID)
	assert.True(t, row.OptedIn)

	row2, err := SetConsent(db, "3375550100", &a.ID, false, SourceWebForm)
	require.NoError(t, err)
	assert.False(t, row2.OptedIn)
}

func TestDeliverMagicLink(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	tech, techUser := testutil.CreateTechnicianUser(t, db, f.ID, "Tech")
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleFranchisee, &f.ID)
	sender := &fakeSender{}
	svc := NewService(sender, zap.NewNop())

	require.NoError(t, svc.DeliverMagicLink(context.Background(), owner, "https://x/link"))
	require.NoError(t, svc.DeliverMagicLink(context.Background(), techUser, "https://x/link"))
	assert.Empty(t, sender.sent, "no consent yet")

	_, err := SetConsent(db, tech.Phone, &f.ID, true, SourceWebForm)
	require.NoError(t, err)
	require.NoError(t, svc.DeliverMagicLink(context.Background(), techUser, "https://x/link"))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0], "https://x/link")

	var n models.Notification
	require.NoError(t, db.Last(&n).Error)
	assert.Equal(t, notifications.KindMagicLink, n.Kind)
	assert.Equal(t, models.ChannelSMS, n.Channel)
}

const (
	inboundToken = "auth-token"
	inboundURL   = "https://app.example.com/api/sms/inbound"
)

// twilioSignature signs form the way Twilio does for webhook callbacks.
func twilioSignature(token, webhookURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := webhookURL
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func inbound(t *testing.T, app *fiber.App, from, body string, signed bool) *http.Response {
	t.Helper()
	form := url.Values{"From": {from}, "Body": {body}}
	req := httptest.NewRequest(http.MethodPost, "/api/sms/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signed {
		req.Header.Set("X-Twilio-Signature", twilioSignature(inboundToken, inboundURL, form))
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestInboundKeywords(t *testing.T) {
	db := testutil.SetupDB(t)
	app := fiber.New()
	app.Post("/api/sms/inbound", InboundHandler(inboundToken, inboundURL))

	resp := inbound(t, app, "+13375550100", "start", true)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	ok, err := HasConsent(db, "+13375550100")
	require.NoError(t, err)
	assert.True(t, ok)

	inbound(t, app, "+13375550100", "Stop please", true)
	ok, err = HasConsent(db, "+13375550100")
	require.NoError(t, err)
	assert.False(t, ok)

	inbound(t, app, "+13375550199", "thanks for the quick service", true)
	var count int64
	db.Model(&models.SMSConsent{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestInboundRejectsBadSignature(t *testing.T) {
	testutil.SetupDB(t)
	app := fiber.New()
	app.Post("/api/sms/inbound", InboundHandler(inboundToken, inboundURL))

	resp := inbound(t, app, "+13375550100", "STOP", false)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestInboundWithoutTokenIsUnavailable(t *testing.T) {
	db := testutil.SetupDB(t)
	app := fiber.New()
	app.Post("/api/sms/inbound", InboundHandler("", inboundURL))

	resp := inbound(t, app, "+13375550199", "START", false)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	ok, err := HasConsent(db, "+13375550199")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsentAndSendHandlers(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleFranchisee, &f.ID)
	sender := &fakeSender{}
	svc := NewService(sender, zap.NewNop())

	app, api := authtest.App(t)
	api.Post("/sms/consent", RecordConsentHandler())
	api.Get("/sms/consent", ListConsentHandler())
	api.Post("/sms/send", SendHandler(svc))

	resp := authtest.Do(t, app, http.MethodPost, "/api/sms/send", SendRequest{Phone: "3375550100", Body: "On our way"}, owner)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	resp = authtest.Do(t, app, http.MethodPost, "/api/sms/consent", ConsentRequest{Phone: "bogus", OptedIn: true}, owner)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = authtest.Do(t, app, http.MethodPost, "/api/sms/consent", ConsentRequest{Phone: "3375550100", OptedIn: true}, owner)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = authtest.Do(t, app, http.MethodPost, "/api/sms/send", SendRequest{Phone: "3375550100", Body: "On our way"}, owner)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Len(t, sender.sent, 1)

	other := testutil.CreateFranchisee(t, db, "Houma")
	otherOwner := testutil.CreateUser(t, db, "other@example.com", models.RoleFranchisee, &other.ID)
	resp = authtest.Do(t, app, http.MethodPost, "/api/sms/consent", ConsentRequest{Phone: "3375550100", OptedIn: false}, otherOwner)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp = authtest.Do(t, app, http.MethodGet, "/api/sms/consent", nil, owner)
	var list []ConsentResponse
	authtest.Decode(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, SourceWebForm, list[0].Source)
	assert.True(t, list[0].OptedIn)
}

type scriptedAPI struct {
	errs  []error
	calls int
}

func (s *scriptedAPI) CreateMessage(*twapi.CreateMessageParams) (*twapi.ApiV2010Message, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	sid := "SM42"
	return &twapi.ApiV2010Message{Sid: &sid}, nil
}

func TestTwilioSenderRetries(t *testing.T) {
	fast := func() retry.Backoff { return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond)) }

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{name: "first try", wantCalls: 1},
		{
			name:      "server error then success",
			errs:      []error{&twclient.TwilioRestError{Status: 503}, &twclient.TwilioRestError{Status: 429}},
			wantCalls: 3,
		},
		{
			name:      "client error is final",
			errs:      []error{&twclient.TwilioRestError{Status: 400, Message: "bad To"}},
			wantCalls: 1,
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &scriptedAPI{errs: tt.errs}
			s := &TwilioSender{api: api, from: "+15550001111", backoff: fast}
			sid, err := s.Send(context.Background(), "+13375550100", "hi")
			assert.Equal(t, tt.wantCalls, api.calls)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "SM42", sid)
		})
	}
}
