package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"arena-registration/internal/models"
	"arena-registration/internal/utils"
)

// Etupay callback steps
const (
	EtupayStepPaid     = "PAID"
	EtupayStepRefused  = "REFUSED"
	EtupayStepCanceled = "CANCELED"
)

// EtupayConfig represents the legacy provider configuration
type EtupayConfig struct {
	Key          []byte
	ServiceID    int
	Endpoint     string
	AllowedCIDRs []netip.Prefix
	SuccessURL   string
	ErrorURL     string
}

// EtupayService decodes and produces the provider's encrypted payloads
type EtupayService struct {
	config EtupayConfig
}

// NewEtupayService creates the legacy provider adapter
func NewEtupayService(config EtupayConfig) (*EtupayService, error) {
	if len(config.Key) != utils.KeySize {
		return nil, utils.ErrInvalidKey
	}
	return &EtupayService{config: config}, nil
}

// EtupayCallback is the decrypted content of a callback payload
type EtupayCallback struct {
	TransactionID json.Number `json:"transaction_id"`
	Step          string      `json:"step"`
	ServiceData   string      `json:"service_data"`
	Amount        int         `json:"amount"`
	Type          string      `json:"type"`
}

// EtupayArticle is one line shown on the provider checkout page
type EtupayArticle struct {
	Name     string `json:"name"`
	Price    int    `json:"price"`
	Quantity int    `json:"quantity"`
}

// EtupayPaymentRequest is the encrypted payload sent to initiate a payment
type EtupayPaymentRequest struct {
	Type        string          `json:"type"`
	Amount      int             `json:"amount"`
	ClientMail  string          `json:"client_mail"`
	Firstname   string          `json:"firstname"`
	Lastname    string          `json:"lastname"`
	Description string          `json:"description"`
	Articles    []EtupayArticle `json:"articles"`
	ServiceData string          `json:"service_data"`
}

// Outcome maps a callback step to a payment outcome
func (c *EtupayCallback) Outcome() (models.PaymentOutcome, bool) {
	switch c.Step {
	case EtupayStepPaid:
		return models.OutcomePaid, true
	case EtupayStepRefused:
		return models.OutcomeRefused, true
	case EtupayStepCanceled:
		return models.OutcomeCanceled, true
	default:
		return "", false
	}
}

// Decode authenticates, decrypts and normalizes a callback payload. Every
// failure is reported as InvalidQueryParameters.
func (s *EtupayService) Decode(payload string) (*models.NormalizedPaymentEvent, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, models.NewError(models.ErrInvalidQueryParameters, "missing payload")
	}

	plaintext, err := utils.OpenEnvelope(s.config.Key, payload)
	if err != nil {
		return nil, models.WrapError(models.ErrInvalidQueryParameters, err, "invalid payload")
	}

	var callback EtupayCallback
	if err := json.Unmarshal(plaintext, &callback); err != nil {
		return nil, models.WrapError(models.ErrInvalidQueryParameters, err, "invalid payload content")
	}

	outcome, ok := callback.Outcome()
	if !ok {
		return nil, models.NewError(models.ErrInvalidQueryParameters, "unknown step %q", callback.Step)
	}
	if callback.ServiceData == "" || callback.TransactionID == "" {
		return nil, models.NewError(models.ErrInvalidQueryParameters, "missing service data or transaction id")
	}

	transactionID := callback.TransactionID.String()
	return &models.NormalizedPaymentEvent{
		Provider:      models.ProviderEtupay,
		EventID:       transactionID + ":" + callback.Step,
		CartID:        callback.ServiceData,
		TransactionID: transactionID,
		Outcome:       outcome,
	}, nil
}

// Encrypt seals any payload with the shared key
func (s *EtupayService) Encrypt(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return utils.SealEnvelope(s.config.Key, raw)
}

// CheckOrigin rejects server-to-server callbacks from outside the provider range
func (s *EtupayService) CheckOrigin(remoteAddr string) error {
	addr, err := parseRemoteAddr(remoteAddr)
	if err != nil {
		return models.WrapError(models.ErrEtupayNoAccess, err, "unparsable caller address")
	}
	for _, prefix := range s.config.AllowedCIDRs {
		if prefix.Contains(addr) {
			return nil
		}
	}
	return models.NewError(models.ErrEtupayNoAccess, "caller %s is outside the provider range", addr)
}

func parseRemoteAddr(remoteAddr string) (netip.Addr, error) {
	if addrPort, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return addrPort.Addr().Unmap(), nil
	}
	addr, err := netip.ParseAddr(strings.Trim(remoteAddr, "[]"))
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.Unmap(), nil
}

// PaymentURL builds the provider checkout URL for a cart
func (s *EtupayService) PaymentURL(cart *models.Cart, payer *models.User, itemNames map[string]string) (string, error) {
	if cart == nil || payer == nil {
		return "", errors.New("cart and payer are required")
	}

	articles := make([]EtupayArticle, 0, len(cart.Items))
	for _, item := range cart.Items {
		name := itemNames[item.ItemID]
		if name == "" {
			name = item.ItemID
		}
		articles = append(articles, EtupayArticle{Name: name, Price: item.Price, Quantity: item.Quantity})
	}

	payload, err := s.Encrypt(EtupayPaymentRequest{
		Type:        "checkout",
		Amount:      cart.Total(),
		ClientMail:  payer.Email,
		Firstname:   payer.Username,
		Lastname:    "",
		Description: "Arena registration",
		Articles:    articles,
		ServiceData: cart.ID,
	})
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("service_id", fmt.Sprintf("%d", s.config.ServiceID))
	query.Set("payload", payload)
	return s.config.Endpoint + "?" + query.Encode(), nil
}

// RedirectURL returns where the browser goes after a callback
func (s *EtupayService) RedirectURL(outcome models.PaymentOutcome) string {
	if outcome == models.OutcomePaid {
		return s.config.SuccessURL
	}
	return s.config.ErrorURL
}
