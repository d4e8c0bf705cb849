package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/trellispay/trellis/internal/api/validate"
	"github.com/trellispay/trellis/internal/gateway"
	"github.com/trellispay/trellis/internal/ledger"
	"github.com/trellispay/trellis/internal/metrics"
	"github.com/trellispay/trellis/internal/models"
	"github.com/trellispay/trellis/internal/receipts"
	repo "github.com/trellispay/trellis/internal/repository"
	"github.com/trellispay/trellis/internal/worker"
)

var (
	// ErrTokenAccess is returned when a token is authorized against by an
	// account that does not own it.
	ErrTokenAccess = errors.New("token does not belong to the effective account")
	// ErrAuthorizationDeclined is returned when the gateway refuses to
	// place a hold.
	ErrAuthorizationDeclined = errors.New("authorization declined by gateway")
)

// TransactionService orchestrates the transaction lifecycle: it resolves the
// effective account, resolves the payment instrument, talks to the gateway
// and commits the outcome to the ledger as events.
type TransactionService struct {
	txs    repo.Transactions
	tokens repo.Tokens
	holds  repo.Authorizations
	audit  repo.AuditLogs
	access *AccessService
	gw     gateway.Gateway
	wp     *worker.Pool
	mail   receipts.Sender
	locks  *txLocks
}

func NewTransactionService(
	txs repo.Transactions,
	tokens repo.Tokens,
	holds repo.Authorizations,
	audit repo.AuditLogs,
	access *AccessService,
	gw gateway.Gateway,
	wp *worker.Pool,
	mail receipts.Sender,
) *TransactionService {
	return &TransactionService{
		txs:    txs,
		tokens: tokens,
		holds:  holds,
		audit:  audit,
		access: access,
		gw:     gw,
		wp:     wp,
		mail:   mail,
		locks:  newTxLocks(),
	}
}

// ----------------- Requests -----------------

type PostTransactionRequest struct {
	Payer              string              `json:"payer"`
	Email              string              `json:"email_address"`
	Amount             int64               `json:"amount"`
	PayerFee           int64               `json:"payer_fee,omitempty"`
	InitiatingPartyFee int64               `json:"initiating_party_fee,omitempty"`
	Comments           string              `json:"comments,omitempty"`
	AttributeValues    map[string]string   `json:"attribute_values,omitempty"`
	Card               *models.CreditCard  `json:"credit_card_information,omitempty"`
	Bank               *models.BankAccount `json:"bank_account_information,omitempty"`
	TokenID            string              `json:"token_id,omitempty"`
	AuthorizationID    string              `json:"authorization_id,omitempty"`
	SendReceipt        bool                `json:"send_receipt,omitempty"`
}

func (r PostTransactionRequest) validate() error {
	var errs validate.Errs
	if e := validate.Required("payer", r.Payer); e != nil {
		errs = append(errs, *e)
	}
	if e := validate.Required("emailAddress", r.Email); e != nil {
		errs = append(errs, *e)
	}
	// With an authorization id the amount comes from the hold.
	if r.AuthorizationID == "" {
		if e := validate.MinInt("amount", r.Amount, 1); e != nil {
			errs = append(errs, *e)
		}
	}
	sources := 0
	if r.Card != nil || r.Bank != nil {
		sources++
	}
	if r.TokenID != "" {
		sources++
	}
	if r.AuthorizationID != "" {
		sources++
	}
	if sources != 1 {
		errs = append(errs, validate.ErrField{
			Field: "paymentInstrument",
			Msg:   "exactly one of inline instrument, tokenId or authorizationId required",
		})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type VoidRequest struct {
	SendReceipt bool `json:"send_receipt"`
}

type RefundRequest struct {
	Amount      int64 `json:"amount,omitempty"` // 0 means full remaining balance
	SendReceipt bool  `json:"send_receipt"`
}

type AuthorizeRequest struct {
	Amount  int64  `json:"amount"`
	TokenID string `json:"token_id"`
}

func (r AuthorizeRequest) validate() error {
	var errs validate.Errs
	if e := validate.MinInt("amount", r.Amount, 1); e != nil {
		errs = append(errs, *e)
	}
	if e := validate.Required("tokenId", r.TokenID); e != nil {
		errs = append(errs, *e)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ----------------- Post -----------------

// Post charges a payment instrument and records the attempt. The transaction
// row is created before the gateway is consulted so a gateway failure is
// still recorded as a declined Sale event, never an eventless row. The only
// paths that produce no row at all are validation failures and an
// unresolvable or inaccessible authorization hold.
func (s *TransactionService) Post(ctx context.Context, req PostTransactionRequest, authed models.Account, impersonationKey string) (*int64, models.PaymentResponseCode, error) {
	if err := req.validate(); err != nil {
		return nil, "", err
	}
	eff, err := s.access.ResolveEffectiveAccount(ctx, authed, impersonationKey)
	if err != nil {
		return nil, "", err
	}

	tx := models.Transaction{
		Payer:              req.Payer,
		Email:              req.Email,
		Amount:             req.Amount,
		PayerFee:           req.PayerFee,
		InitiatingPartyFee: req.InitiatingPartyFee,
		Comments:           req.Comments,
		AttributeValues:    req.AttributeValues,
		AccountID:          eff.ID,
	}

	var instrument models.Instrument
	var holdRef string
	switch {
	case req.AuthorizationID != "":
		hold, err := s.holds.GetByID(ctx, req.AuthorizationID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, models.PaymentInvalidAuth, nil
		}
		if err != nil {
			return nil, "", err
		}
		// Cross-account use of a real hold is indistinguishable from an
		// unknown id to the caller.
		if hold.AccountID != eff.ID {
			return nil, models.PaymentInvalidAuth, nil
		}
		hold, err = s.holds.Consume(ctx, req.AuthorizationID)
		if errors.Is(err, repo.ErrConsumed) || errors.Is(err, repo.ErrNotFound) {
			return nil, models.PaymentInvalidAuth, nil
		}
		if err != nil {
			return nil, "", err
		}
		tok, err := s.tokens.GetByID(ctx, hold.TokenID)
		if err != nil {
			return nil, "", err
		}
		instrument = tok.Instrument
		tx.Amount = hold.Amount
		tx.TokenID = &hold.TokenID
		tx.AuthorizationID = &hold.ID
		holdRef = hold.GatewayRef
	case req.TokenID != "":
		tok, err := s.tokens.GetByID(ctx, req.TokenID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, models.PaymentInvalidInstrument, nil
		}
		if err != nil {
			return nil, "", err
		}
		if tok.AccountID != eff.ID {
			return nil, models.PaymentInvalidAuth, nil
		}
		instrument = tok.Instrument
		tx.TokenID = &tok.ID
	default:
		instrument = models.Instrument{Card: req.Card, Bank: req.Bank}
		if err := instrument.Validate(); err != nil {
			return nil, models.PaymentInvalidInstrument, nil
		}
	}

	tx, err = s.txs.Create(ctx, tx)
	if err != nil {
		return nil, "", err
	}
	if tx.AuthorizationID != nil {
		_, _ = s.txs.AppendEvent(ctx, models.Event{
			TransactionID: tx.ID,
			Type:          models.EventAuthorize,
			ResponseCode:  string(models.PaymentSuccess),
			GatewayRef:    holdRef,
		})
	}

	res, err := s.gw.Charge(ctx, gateway.Instruction{
		Kind:       gateway.Sale,
		Instrument: instrument,
		Amount:     tx.Amount,
	})
	code := models.PaymentSuccess
	if err != nil || !res.Approved {
		code = models.PaymentGenericDecline
	}
	if _, err := s.txs.AppendEvent(ctx, models.Event{
		TransactionID: tx.ID,
		Type:          models.EventSale,
		ResponseCode:  string(code),
		GatewayRef:    res.Reference,
	}); err != nil {
		return nil, "", err
	}

	metrics.PaymentsTotal.WithLabelValues(string(code)).Inc()
	s.auditTx(ctx, eff.ID, tx.ID, "posted", fmt.Sprintf("%s: amount %d", code, tx.Amount))
	if req.SendReceipt && code == models.PaymentSuccess {
		s.sendReceipt(tx.ID, tx.Email, "sale", tx.Amount)
	}
	return &tx.ID, code, nil
}

// ----------------- Void -----------------

// Void reverses a sold transaction. Exactly one void succeeds per
// transaction; later attempts see PreviouslyVoided and append nothing.
func (s *TransactionService) Void(ctx context.Context, id int64, req VoidRequest, authed models.Account, impersonationKey string) (models.ReversalResponseCode, error) {
	eff, err := s.access.ResolveEffectiveAccount(ctx, authed, impersonationKey)
	if err != nil {
		return "", err
	}

	unlock := s.locks.lock(id)
	defer unlock()

	tx, err := s.txs.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !s.access.CanMutate(eff, tx.AccountID) {
		metrics.ReversalsTotal.WithLabelValues("void", string(models.ReversalUnauthorized)).Inc()
		return models.ReversalUnauthorized, nil
	}
	children, err := s.txs.ListChildren(ctx, id)
	if err != nil {
		return "", err
	}
	switch ledger.Derive(&tx, children) {
	case ledger.Sold:
		// voidable
	case ledger.Voided:
		metrics.ReversalsTotal.WithLabelValues("void", string(models.ReversalPreviouslyVoided)).Inc()
		return models.ReversalPreviouslyVoided, nil
	default:
		metrics.ReversalsTotal.WithLabelValues("void", string(models.ReversalGenericDecline)).Inc()
		return models.ReversalGenericDecline, nil
	}

	res, err := s.gw.Reverse(ctx, ledger.SaleReference(tx.Events))
	if err != nil || !res.Approved {
		metrics.ReversalsTotal.WithLabelValues("void", string(models.ReversalGenericDecline)).Inc()
		return models.ReversalGenericDecline, nil
	}
	if _, err := s.txs.AppendEvent(ctx, models.Event{
		TransactionID: tx.ID,
		Type:          models.EventVoid,
		ResponseCode:  string(models.ReversalSuccess),
		GatewayRef:    res.Reference,
	}); err != nil {
		return "", err
	}

	metrics.ReversalsTotal.WithLabelValues("void", string(models.ReversalSuccess)).Inc()
	s.auditTx(ctx, eff.ID, tx.ID, "voided", "")
	if req.SendReceipt {
		s.sendReceipt(tx.ID, tx.Email, "void", tx.Amount)
	}
	return models.ReversalSuccess, nil
}

// ----------------- Refund -----------------

// Refund credits back part or all of a settled transaction. The accepted
// amount becomes a child transaction with a negative amount; the sum of all
// children never exceeds the original amount, enforced under the parent
// transaction's lock.
func (s *TransactionService) Refund(ctx context.Context, id int64, req RefundRequest, authed models.Account, impersonationKey string) (*int64, models.ReversalResponseCode, error) {
	if req.Amount < 0 {
		return nil, "", validate.Errs{{Field: "amount", Msg: "must be >= 0"}}
	}
	eff, err := s.access.ResolveEffectiveAccount(ctx, authed, impersonationKey)
	if err != nil {
		return nil, "", err
	}

	unlock := s.locks.lock(id)
	defer unlock()

	tx, err := s.txs.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !s.access.CanMutate(eff, tx.AccountID) {
		metrics.ReversalsTotal.WithLabelValues("refund", string(models.ReversalUnauthorized)).Inc()
		return nil, models.ReversalUnauthorized, nil
	}
	// Refunds are only legal once the external batch schedule has settled
	// the transaction.
	if !tx.Settled() {
		metrics.ReversalsTotal.WithLabelValues("refund", string(models.ReversalGenericDecline)).Inc()
		return nil, models.ReversalGenericDecline, nil
	}
	children, err := s.txs.ListChildren(ctx, id)
	if err != nil {
		return nil, "", err
	}
	switch ledger.Derive(&tx, children) {
	case ledger.Sold, ledger.PartiallyRefunded:
		// refundable
	default:
		metrics.ReversalsTotal.WithLabelValues("refund", string(models.ReversalGenericDecline)).Inc()
		return nil, models.ReversalGenericDecline, nil
	}

	remaining := ledger.RemainingBalance(&tx, children)
	amount := req.Amount
	if amount == 0 {
		amount = remaining
	}
	if amount > remaining {
		metrics.ReversalsTotal.WithLabelValues("refund", string(models.ReversalGenericDecline)).Inc()
		return nil, models.ReversalGenericDecline, nil
	}

	res, err := s.gw.Reverse(ctx, ledger.SaleReference(tx.Events))
	if err != nil || !res.Approved {
		metrics.ReversalsTotal.WithLabelValues("refund", string(models.ReversalGenericDecline)).Inc()
		return nil, models.ReversalGenericDecline, nil
	}

	child, err := s.txs.Create(ctx, models.Transaction{
		Payer:     tx.Payer,
		Email:     tx.Email,
		Amount:    -amount,
		Comments:  fmt.Sprintf("Refund of transaction %d", tx.ID),
		AccountID: tx.AccountID,
		ParentID:  &tx.ID,
	})
	if err != nil {
		return nil, "", err
	}
	if _, err := s.txs.AppendEvent(ctx, models.Event{
		TransactionID: child.ID,
		Type:          models.EventRefund,
		ResponseCode:  string(models.ReversalSuccess),
		GatewayRef:    res.Reference,
	}); err != nil {
		return nil, "", err
	}
	if _, err := s.txs.AppendEvent(ctx, models.Event{
		TransactionID: tx.ID,
		Type:          models.EventRefund,
		ResponseCode:  string(models.ReversalSuccess),
		GatewayRef:    res.Reference,
	}); err != nil {
		return nil, "", err
	}

	metrics.ReversalsTotal.WithLabelValues("refund", string(models.ReversalSuccess)).Inc()
	s.auditTx(ctx, eff.ID, tx.ID, "refunded", fmt.Sprintf("amount %d, child %d", amount, child.ID))
	if req.SendReceipt {
		s.sendReceipt(child.ID, tx.Email, "refund", -amount)
	}
	return &child.ID, models.ReversalSuccess, nil
}

// ----------------- Authorize -----------------

// Authorize places a funds hold for a token the effective account owns and
// returns the hold id. The hold is consumed by a later Post.
func (s *TransactionService) Authorize(ctx context.Context, req AuthorizeRequest, authed models.Account, impersonationKey string) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	eff, err := s.access.ResolveEffectiveAccount(ctx, authed, impersonationKey)
	if err != nil {
		return "", err
	}
	tok, err := s.tokens.GetByID(ctx, req.TokenID)
	if err != nil {
		return "", err
	}
	if tok.AccountID != eff.ID {
		return "", ErrTokenAccess
	}

	res, err := s.gw.Charge(ctx, gateway.Instruction{
		Kind:       gateway.Authorize,
		Instrument: tok.Instrument,
		Amount:     req.Amount,
	})
	if err != nil || !res.Approved {
		return "", ErrAuthorizationDeclined
	}

	hold, err := s.holds.Create(ctx, models.Authorization{
		Amount:     req.Amount,
		TokenID:    tok.ID,
		AccountID:  eff.ID,
		GatewayRef: res.Reference,
	})
	if err != nil {
		return "", err
	}
	s.auditTx(ctx, eff.ID, 0, "authorized", fmt.Sprintf("hold %s for %d", hold.ID, hold.Amount))
	return hold.ID, nil
}

// ----------------- Queries -----------------

// Get returns the transaction with its event history. Readable by the owner
// and by any account the owner has granted impersonation rights to, with or
// without the key on the request.
func (s *TransactionService) Get(ctx context.Context, id int64, authed models.Account, impersonationKey string) (models.Transaction, error) {
	eff, err := s.access.ResolveEffectiveAccount(ctx, authed, impersonationKey)
	if err != nil {
		return models.Transaction{}, err
	}
	tx, err := s.txs.GetByID(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	ok, err := s.access.CanRead(ctx, authed, eff, tx.AccountID)
	if err != nil {
		return models.Transaction{}, err
	}
	if !ok {
		// Do not reveal that the transaction exists.
		return models.Transaction{}, repo.ErrNotFound
	}
	return tx, nil
}

func (s *TransactionService) ListByAccount(ctx context.Context, authed models.Account, limit, offset int) ([]models.Transaction, error) {
	return s.txs.ListByAccount(ctx, authed.ID, limit, offset)
}

// ----------------- Helpers -----------------

func (s *TransactionService) auditTx(ctx context.Context, accountID string, txID int64, action, details string) {
	var det map[string]any
	if details != "" {
		det = map[string]any{"message": details}
	}
	var entityID *string
	if txID != 0 {
		id := fmt.Sprintf("%d", txID)
		entityID = &id
	}
	_ = s.audit.Create(ctx, models.AuditLog{
		EntityType: "transaction",
		EntityID:   entityID,
		AccountID:  accountID,
		Action:     action,
		Details:    det,
	})
}

func (s *TransactionService) sendReceipt(txID int64, email, operation string, amount int64) {
	s.wp.Submit(func() {
		r := receipts.Receipt{
			TransactionID: txID,
			Email:         email,
			Operation:     operation,
			Amount:        amount,
		}
		if err := s.mail.Send(context.Background(), r); err != nil {
			slog.Error("send receipt", "transaction_id", txID, "err", err)
		}
	})
}
