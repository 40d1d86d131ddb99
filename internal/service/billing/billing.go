package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/config"
	"github.com/finbridge/marketgate/internal/domain/account"
	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/domain/subscription"
	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/util"
)

type Service struct {
	store    Store
	accounts account.Repository
	cfg      *config.BillingConfig
	logger   *zap.Logger
}

func NewService(store Store, accounts account.Repository, cfg *config.BillingConfig, logger *zap.Logger) *Service {
	if cfg.StripeSecretKey != "" {
		stripe.Key = cfg.StripeSecretKey
	}
	return &Service{
		store:    store,
		accounts: accounts,
		cfg:      cfg,
		logger:   logger.Named("BillingService"),
	}
}

type Plan struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	PriceUSD    float64 `json:"price_usd"`
	Interval    string  `json:"interval"`
	Description string  `json:"description"`
}

func (s *Service) StarterPlan() Plan {
	return Plan{
		ID:          s.cfg.PlanID,
		Name:        s.cfg.PlanName,
		PriceUSD:    s.cfg.PlanPriceUSD,
		Interval:    s.cfg.PlanInterval,
		Description: s.cfg.PlanDescription,
	}
}

// ValidateRedirectURL enforces https (localhost exempt for development) and
// the configured allowed-host list for checkout success/cancel targets.
func (s *Service) ValidateRedirectURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid redirect url", ierr.ErrValidation)
	}

	host := strings.ToLower(u.Hostname())
	if u.Scheme != "https" && host != "localhost" && host != "127.0.0.1" {
		return fmt.Errorf("%w: redirect URLs must use https (localhost allowed for development)", ierr.ErrValidation)
	}

	allowed := map[string]struct{}{}
	for _, h := range strings.Split(s.cfg.AllowedRedirectHosts, ",") {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			allowed[h] = struct{}{}
		}
	}
	if len(allowed) > 0 {
		if _, ok := allowed[host]; !ok {
			return fmt.Errorf("%w: redirect URL host %q is not allowed", ierr.ErrValidation, host)
		}
	}
	return nil
}

type CheckoutSession struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// CreateCheckoutSession starts a subscription checkout. When an authenticated
// account is supplied, the Stripe customer is created at most once, stored on
// the account and reused; anonymous checkouts carry the email only and are
// resolved later by the webhook.
func (s *Service) CreateCheckoutSession(ctx context.Context, email, successURL, cancelURL string, accountID *int64) (*CheckoutSession, error) {
	if s.cfg.StripeSecretKey == "" {
		return nil, fmt.Errorf("%w: stripe secret key not configured", ierr.ErrBillingNotConfigured)
	}
	if s.cfg.StripePriceIDMonthly == "" {
		return nil, fmt.Errorf("%w: stripe monthly price id not configured", ierr.ErrBillingNotConfigured)
	}

	email = strings.ToLower(strings.TrimSpace(email))

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(s.cfg.StripePriceIDMonthly), Quantity: stripe.Int64(1)},
		},
		SuccessURL:          stripe.String(successURL),
		CancelURL:           stripe.String(cancelURL),
		AllowPromotionCodes: stripe.Bool(true),
	}

	if accountID != nil {
		acc, err := s.accounts.FindByID(ctx, *accountID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid session account", ierr.ErrUnauthorized)
		}
		if acc.Email != email {
			return nil, fmt.Errorf("%w: checkout email must match authenticated account", ierr.ErrForbidden)
		}

		if acc.StripeCustomerID == nil || *acc.StripeCustomerID == "" {
			customerID, err := s.createStripeCustomer(acc)
			if err != nil {
				return nil, err
			}
			if err := s.accounts.SetStripeCustomerID(ctx, acc.ID, customerID); err != nil {
				return nil, err
			}
			acc.StripeCustomerID = &customerID
		}

		params.Customer = stripe.String(*acc.StripeCustomerID)
		params.ClientReferenceID = stripe.String(strconv.FormatInt(acc.ID, 10))
		params.Metadata = map[string]string{
			"user_id": strconv.FormatInt(acc.ID, 10),
			"email":   acc.Email,
			"plan_id": s.cfg.PlanID,
		}
	} else {
		params.CustomerEmail = stripe.String(email)
	}

	sess, err := session.New(params)
	if err != nil {
		s.logger.Error("Stripe checkout session creation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: stripe checkout session failed: %v", ierr.ErrUpstreamUnavailable, err)
	}

	return &CheckoutSession{ID: sess.ID, URL: sess.URL, Status: string(sess.Status)}, nil
}

func (s *Service) createStripeCustomer(acc *account.Account) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(acc.Email),
	}
	params.AddMetadata("user_id", strconv.FormatInt(acc.ID, 10))
	params.AddMetadata("email", acc.Email)

	cust, err := customer.New(params)
	if err != nil {
		s.logger.Error("Stripe customer creation failed", zap.Int64("account_id", acc.ID), zap.Error(err))
		return "", fmt.Errorf("%w: stripe customer creation failed: %v", ierr.ErrUpstreamUnavailable, err)
	}
	if cust.ID == "" {
		return "", fmt.Errorf("%w: stripe customer creation did not return an id", ierr.ErrUpstreamUnavailable)
	}
	return cust.ID, nil
}

// HandleEvent reconciles a verified webhook event against the subscription
// ledger and credential store. Unrecognized or unresolvable events are
// acknowledged as unhandled, never errors; the provider redelivers on
// non-2xx and some conditions will never resolve.
func (s *Service) HandleEvent(ctx context.Context, ev Event) (Result, error) {
	switch ev.Type {
	case EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, ev)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		// created and updated provision symmetrically: both can be the first
		// observation of a paid subscription.
		return s.handleSubscriptionEvent(ctx, ev, true)
	case EventSubscriptionDeleted:
		return s.handleSubscriptionEvent(ctx, ev, false)
	default:
		s.logger.Debug("Ignoring unrecognized billing event", zap.String("type", ev.Type))
		return Result{}, nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, ev Event) (Result, error) {
	var payload checkoutSessionPayload
	if err := json.Unmarshal(ev.Object, &payload); err != nil {
		s.logger.Warn("Malformed checkout session payload", zap.Error(err))
		return Result{}, nil
	}

	var res Result
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		acc, err := s.resolveCheckoutAccount(ctx, tx, &payload)
		if err != nil {
			return err
		}
		if acc == nil {
			s.logger.Warn("Checkout completed for unknown account",
				zap.String("session_id", payload.ID),
				zap.String("customer", payload.Customer))
			return nil
		}

		if err := tx.LockAccount(ctx, acc.ID); err != nil {
			return err
		}

		if payload.Customer != "" && (acc.StripeCustomerID == nil || *acc.StripeCustomerID != payload.Customer) {
			if err := tx.SetStripeCustomerID(ctx, acc.ID, payload.Customer); err != nil {
				return err
			}
		}

		status := subscription.StatusIncomplete
		if payload.PaymentStatus == "paid" || payload.PaymentStatus == "no_payment_required" {
			status = subscription.StatusActive
		}

		if err := s.upsertSubscription(ctx, tx, acc.ID, payload.Subscription, status, nil); err != nil {
			return err
		}

		if status.GrantsAccess() {
			provisioned, rawKey, err := s.provisionFirstKey(ctx, tx, acc.ID)
			if err != nil {
				return err
			}
			res.ProvisionedKey = provisioned
			res.rawKey = rawKey
		}

		res.Handled = true
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (s *Service) resolveCheckoutAccount(ctx context.Context, tx Tx, payload *checkoutSessionPayload) (*account.Account, error) {
	if raw, ok := payload.Metadata["user_id"]; ok && raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			acc, err := tx.FindAccountByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if acc != nil {
				return acc, nil
			}
		}
	}

	if payload.Customer != "" {
		acc, err := tx.FindAccountByStripeCustomerID(ctx, payload.Customer)
		if err != nil {
			return nil, err
		}
		if acc != nil {
			return acc, nil
		}
	}

	if payload.CustomerEmail != "" {
		return tx.FindAccountByEmail(ctx, strings.ToLower(payload.CustomerEmail))
	}
	return nil, nil
}

// upsertSubscription matches by external reference first, then falls back to
// the account's most recent row, then inserts. A redelivered event with the
// same reference therefore updates in place instead of duplicating.
func (s *Service) upsertSubscription(ctx context.Context, tx Tx, accountID int64, stripeSubID string, status subscription.Status, periodEnd *time.Time) error {
	var sub *subscription.Subscription
	var err error

	if stripeSubID != "" {
		sub, err = tx.FindSubscriptionByStripeID(ctx, stripeSubID)
		if err != nil {
			return err
		}
	}
	if sub == nil {
		sub, err = tx.LatestSubscriptionForAccount(ctx, accountID)
		if err != nil {
			return err
		}
	}

	if sub == nil {
		newSub := &subscription.Subscription{
			AccountID:        accountID,
			Status:           status,
			Plan:             s.cfg.PlanID,
			CurrentPeriodEnd: periodEnd,
		}
		if stripeSubID != "" {
			newSub.StripeSubscriptionID = &stripeSubID
		}
		_, err = tx.InsertSubscription(ctx, newSub)
		return err
	}

	if stripeSubID != "" {
		sub.StripeSubscriptionID = &stripeSubID
	}
	sub.Status = status
	sub.Plan = s.cfg.PlanID
	sub.CurrentPeriodEnd = periodEnd
	return tx.UpdateSubscription(ctx, sub)
}

func (s *Service) handleSubscriptionEvent(ctx context.Context, ev Event, provisionOnActive bool) (Result, error) {
	var payload subscriptionPayload
	if err := json.Unmarshal(ev.Object, &payload); err != nil {
		s.logger.Warn("Malformed subscription payload", zap.Error(err))
		return Result{}, nil
	}
	if payload.ID == "" {
		return Result{}, nil
	}

	status := subscription.Status(payload.Status)
	if status == "" {
		status = subscription.StatusIncomplete
	}
	periodEnd := epochToTime(payload.CurrentPeriodEnd)

	var res Result
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		sub, err := tx.FindSubscriptionByStripeID(ctx, payload.ID)
		if err != nil {
			return err
		}

		var accountID int64
		if sub == nil {
			// Deletions take this insert path too: a terminal event for a
			// subscription never seen still gets its row, keeping one row per
			// external ref regardless of delivery order.
			if payload.Customer == "" {
				return nil
			}
			acc, err := tx.FindAccountByStripeCustomerID(ctx, payload.Customer)
			if err != nil {
				return err
			}
			if acc == nil {
				s.logger.Warn("Subscription event for unknown customer",
					zap.String("subscription_id", payload.ID),
					zap.String("customer", payload.Customer))
				return nil
			}
			accountID = acc.ID

			if err := tx.LockAccount(ctx, accountID); err != nil {
				return err
			}

			stripeSubID := payload.ID
			_, err = tx.InsertSubscription(ctx, &subscription.Subscription{
				AccountID:            accountID,
				StripeSubscriptionID: &stripeSubID,
				Status:               status,
				Plan:                 s.cfg.PlanID,
				CurrentPeriodEnd:     periodEnd,
			})
			if err != nil {
				return err
			}
		} else {
			accountID = sub.AccountID
			if err := tx.LockAccount(ctx, accountID); err != nil {
				return err
			}

			sub.Status = status
			sub.CurrentPeriodEnd = periodEnd
			if sub.Plan == "" {
				sub.Plan = s.cfg.PlanID
			}
			if err := tx.UpdateSubscription(ctx, sub); err != nil {
				return err
			}
		}

		if provisionOnActive && status.GrantsAccess() {
			provisioned, rawKey, err := s.provisionFirstKey(ctx, tx, accountID)
			if err != nil {
				return err
			}
			res.ProvisionedKey = provisioned
			res.rawKey = rawKey
		}

		res.Handled = true
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// provisionFirstKey issues the account's first credential after a paid or
// trialing subscription is observed. The caller holds the account row lock,
// so the existence check and the insert are atomic under redelivery.
func (s *Service) provisionFirstKey(ctx context.Context, tx Tx, accountID int64) (bool, string, error) {
	hasKey, err := tx.AccountHasActiveKey(ctx, accountID)
	if err != nil {
		return false, "", err
	}
	if hasKey {
		return false, "", nil
	}

	rawKey, keyHash, err := util.GenerateAPIKey()
	if err != nil {
		return false, "", fmt.Errorf("failed to generate provisioned key: %w", err)
	}

	_, err = tx.InsertAPIKey(ctx, &apikey.APIKey{
		KeyHash:   keyHash,
		AccountID: accountID,
		Label:     apikey.PrimaryKeyLabel,
		Status:    apikey.StatusActive,
	})
	if err != nil {
		return false, "", err
	}

	s.logger.Info("Provisioned first API key", zap.Int64("account_id", accountID))
	return true, rawKey, nil
}

func epochToTime(epoch int64) *time.Time {
	if epoch <= 0 {
		return nil
	}
	t := time.Unix(epoch, 0).UTC()
	return &t
}
