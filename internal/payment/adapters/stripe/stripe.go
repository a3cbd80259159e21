package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/paycore/internal/clock"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	stripego "github.com/stripe/stripe-go/v79"
)

const (
	SignatureHeader  = "Stripe-Signature"
	DefaultTolerance = 300 * time.Second
)

type Config struct {
	WebhookSecret string
	Tolerance     time.Duration
	Clock         clock.Clock
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	clock         clock.Clock
}

func NewAdapter(cfg Config) (*Adapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Adapter{
		webhookSecret: secret,
		tolerance:     tolerance,
		clock:         clk,
	}, nil
}

func (a *Adapter) Provider() string {
	return paymentdomain.ProviderStripe
}

// Verify checks the Stripe-Signature header: any v1 HMAC-SHA256 over
// "{t}.{body}" must match and t must be within the tolerance window.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	signedAt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	expected := computeSignature(a.webhookSecret, timestamp, payload)
	matched := false
	for _, signature := range signatures {
		decoded, err := hex.DecodeString(signature)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			matched = true
		}
	}
	if !matched {
		return paymentdomain.ErrInvalidSignature
	}

	age := a.clock.Now().Sub(time.Unix(signedAt, 0))
	if age < 0 {
		age = -age
	}
	if age > a.tolerance {
		return paymentdomain.ErrSignatureExpired
	}
	return nil
}

// Parse decodes the event once into its typed variant.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (paymentdomain.Envelope, paymentdomain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return paymentdomain.Envelope{}, nil, paymentdomain.ErrInvalidPayload
	}
	event.ID = strings.TrimSpace(event.ID)
	event.Type = strings.TrimSpace(event.Type)
	if event.ID == "" || event.Type == "" {
		return paymentdomain.Envelope{}, nil, paymentdomain.ErrInvalidEvent
	}

	envelope := paymentdomain.Envelope{
		EventID:    event.ID,
		Provider:   paymentdomain.ProviderStripe,
		EventType:  event.Type,
		Payload:    payload,
		OccurredAt: timestamp(event.Created, 0, a.clock),
	}

	var (
		parsed paymentdomain.Event
		err    error
	)
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		parsed, err = parsePaymentSucceeded(event)
	case paymentdomain.EventTypePaymentFailed:
		parsed, err = parsePaymentFailed(event)
	case paymentdomain.EventTypePaymentRequiresAction:
		parsed, err = parseRequiresAction(event)
	case paymentdomain.EventTypeChargeRefunded:
		parsed, err = parseChargeRefunded(event)
	case paymentdomain.EventTypeSubscriptionUpdated:
		parsed, err = parseSubscriptionUpdated(event)
	case paymentdomain.EventTypeSubscriptionDeleted:
		parsed, err = a.parseSubscriptionDeleted(event)
	default:
		parsed = paymentdomain.Unhandled{Type: event.Type}
	}
	if err != nil {
		return paymentdomain.Envelope{}, nil, err
	}
	return envelope, parsed, nil
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID               string                  `json:"id"`
	Amount           int64                   `json:"amount"`
	AmountReceived   int64                   `json:"amount_received"`
	Currency         string                  `json:"currency"`
	LastPaymentError *stripeLastPaymentError `json:"last_payment_error"`
	NextAction       *stripeNextAction       `json:"next_action"`
}

type stripeLastPaymentError struct {
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

type stripeNextAction struct {
	Type string `json:"type"`
}

type stripeCharge struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	Refunds        struct {
		Data []stripeRefund `json:"data"`
	} `json:"refunds"`
}

type stripeRefund struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

type stripeSubscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CanceledAt         int64  `json:"canceled_at"`
	EndedAt            int64  `json:"ended_at"`
}

func decodeObject(event stripeEvent, out any) error {
	if len(event.Data.Object) == 0 {
		return paymentdomain.ErrInvalidPayload
	}
	if err := json.Unmarshal(event.Data.Object, out); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	return nil
}

func parsePaymentSucceeded(event stripeEvent) (paymentdomain.Event, error) {
	var intent stripePaymentIntent
	if err := decodeObject(event, &intent); err != nil {
		return nil, err
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	return paymentdomain.PaymentSucceeded{
		PaymentIntentID: intent.ID,
		Amount:          amount,
		Currency:        normalizeCurrency(intent.Currency),
	}, nil
}

func parsePaymentFailed(event stripeEvent) (paymentdomain.Event, error) {
	var intent stripePaymentIntent
	if err := decodeObject(event, &intent); err != nil {
		return nil, err
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return paymentdomain.PaymentFailed{
		PaymentIntentID: intent.ID,
		Amount:          intent.Amount,
		Currency:        normalizeCurrency(intent.Currency),
		Failure:         classifyLastPaymentError(intent.LastPaymentError),
	}, nil
}

// classifyLastPaymentError runs the embedded gateway error through the same
// classifier used for API failures.
func classifyLastPaymentError(lpe *stripeLastPaymentError) *paymenterror.PaymentError {
	if lpe == nil {
		return paymenterror.New(paymenterror.KindProcessingError, "")
	}
	return paymenterror.Classify(&stripego.Error{
		Code:        stripego.ErrorCode(lpe.Code),
		DeclineCode: stripego.DeclineCode(lpe.DeclineCode),
		Msg:         lpe.Message,
	})
}

func parseRequiresAction(event stripeEvent) (paymentdomain.Event, error) {
	var intent stripePaymentIntent
	if err := decodeObject(event, &intent); err != nil {
		return nil, err
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	next := ""
	if intent.NextAction != nil {
		next = intent.NextAction.Type
	}
	return paymentdomain.PaymentRequiresAction{
		PaymentIntentID: intent.ID,
		NextAction:      next,
	}, nil
}

func parseChargeRefunded(event stripeEvent) (paymentdomain.Event, error) {
	var charge stripeCharge
	if err := decodeObject(event, &charge); err != nil {
		return nil, err
	}
	if strings.TrimSpace(charge.ID) == "" || strings.TrimSpace(charge.PaymentIntent) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	refunds := make([]paymentdomain.GatewayRefund, 0, len(charge.Refunds.Data))
	for _, r := range charge.Refunds.Data {
		if strings.TrimSpace(r.ID) == "" || r.Amount <= 0 {
			continue
		}
		refunds = append(refunds, paymentdomain.GatewayRefund{
			ID:            r.ID,
			Amount:        r.Amount,
			Status:        r.Status,
			LocalRefundID: strings.TrimSpace(r.Metadata[paymentdomain.RefundMetadataKey]),
		})
	}
	return paymentdomain.ChargeRefunded{
		ChargeID:        charge.ID,
		PaymentIntentID: charge.PaymentIntent,
		AmountRefunded:  charge.AmountRefunded,
		Currency:        normalizeCurrency(charge.Currency),
		Refunds:         refunds,
	}, nil
}

func parseSubscriptionUpdated(event stripeEvent) (paymentdomain.Event, error) {
	var sub stripeSubscription
	if err := decodeObject(event, &sub); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	status, ok := subscriptionStatus(sub.Status)
	if !ok {
		return paymentdomain.Unhandled{Type: event.Type}, nil
	}
	if sub.CurrentPeriodStart == 0 || sub.CurrentPeriodEnd <= sub.CurrentPeriodStart {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return paymentdomain.SubscriptionUpdated{
		GatewaySubscriptionID: sub.ID,
		Status:                status,
		CurrentPeriodStart:    time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:      time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:     sub.CancelAtPeriodEnd,
	}, nil
}

func (a *Adapter) parseSubscriptionDeleted(event stripeEvent) (paymentdomain.Event, error) {
	var sub stripeSubscription
	if err := decodeObject(event, &sub); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	endedAt := sub.EndedAt
	if endedAt == 0 {
		endedAt = sub.CanceledAt
	}
	return paymentdomain.SubscriptionDeleted{
		GatewaySubscriptionID: sub.ID,
		EndedAt:               timestamp(endedAt, event.Created, a.clock),
	}, nil
}

// subscriptionStatus maps gateway statuses onto local ones.
func subscriptionStatus(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "trialing":
		return "active", true
	case "past_due", "incomplete":
		return "past_due", true
	case "canceled", "incomplete_expired":
		return "cancelled", true
	case "unpaid":
		return "unpaid", true
	case "paused":
		return "paused", true
	default:
		return "", false
	}
}

func computeSignature(secret, timestamp string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

// SignatureHeaderValue builds a Stripe-Signature value for payload. Used by
// tooling that replays events locally.
func SignatureHeaderValue(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(computeSignature(secret, ts, payload))
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64, clk clock.Clock) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return clk.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
