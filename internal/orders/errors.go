package orders

import (
	"errors"
	"fmt"

	"github.com/insbuy/groupbuy-orders/internal/ledger"
)

type Kind string

const (
	KindInvalidRequest    Kind = "invalid_request"
	KindNotFound          Kind = "not_found"
	KindInvalidQuantity   Kind = "invalid_quantity"
	KindInsufficientStock Kind = "insufficient_stock"
	KindPersistence       Kind = "persistence"
	KindInFlight          Kind = "in_flight"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNotFound          = errors.New("not found")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrPersistence       = errors.New("persistence failure")

	// ErrIdempotencyInFlight means another submit with the same idempotency
	// key has not finished yet.
	ErrIdempotencyInFlight = errors.New("idempotency key in use")

	// ErrDuplicateID is returned by a Store when the order id is taken.
	ErrDuplicateID       = errors.New("order id already exists")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStatusConflict    = errors.New("order status changed concurrently")
)

var kindSentinel = map[Kind]error{
	KindInvalidRequest:    ErrInvalidRequest,
	KindNotFound:          ErrNotFound,
	KindInvalidQuantity:   ErrInvalidQuantity,
	KindInsufficientStock: ErrInsufficientStock,
	KindPersistence:       ErrPersistence,
	KindInFlight:          ErrIdempotencyInFlight,
}

// SubmitError is the only error type Submit returns. Its message is shown to
// the customer, so it names the product and variant that failed.
type SubmitError struct {
	Kind Kind
	// Line is the zero-based cart index, -1 when the error is not about a line.
	Line        int
	ProductID   string
	ProductName string
	Variant     string
	Requested   int
	Available   int
	Err         error
}

func (e *SubmitError) Error() string {
	item := fmt.Sprintf("item %d", e.Line+1)
	switch e.Kind {
	case KindInsufficientStock:
		return fmt.Sprintf("insufficient stock for %s (%s): requested %d, available %d",
			e.subject(), item, e.Requested, e.Available)
	case KindInvalidQuantity:
		return fmt.Sprintf("invalid quantity for product %q (%s): must be a positive integer", e.ProductID, item)
	case KindNotFound:
		switch {
		case errors.Is(e.Err, ledger.ErrVariantNotFound):
			return fmt.Sprintf("%s not found (%s)", e.subject(), item)
		case errors.Is(e.Err, ledger.ErrVariantRequired):
			return fmt.Sprintf("product %q requires a variant (%s)", e.name(), item)
		case errors.Is(e.Err, ledger.ErrDeleted):
			return fmt.Sprintf("product %q is no longer available (%s)", e.name(), item)
		default:
			return fmt.Sprintf("product %q not found (%s)", e.ProductID, item)
		}
	case KindInFlight:
		return "this order is already being placed, please wait"
	case KindInvalidRequest:
		if e.Err != nil {
			return "invalid request: " + e.Err.Error()
		}
		return "invalid request"
	default:
		return "could not place the order, please try again"
	}
}

func (e *SubmitError) name() string {
	if e.ProductName != "" {
		return e.ProductName
	}
	return e.ProductID
}

func (e *SubmitError) subject() string {
	if e.Variant != "" {
		return fmt.Sprintf("%q variant %q", e.name(), e.Variant)
	}
	return fmt.Sprintf("%q", e.name())
}

func (e *SubmitError) Unwrap() error { return e.Err }

func (e *SubmitError) Is(target error) bool { return kindSentinel[e.Kind] == target }

func invalidRequest(line int, format string, args ...any) *SubmitError {
	return &SubmitError{Kind: KindInvalidRequest, Line: line, Err: fmt.Errorf(format, args...)}
}

// InvalidQuantity builds the error for a cart line whose quantity is not a
// positive integer.
func InvalidQuantity(line int, productID string) *SubmitError {
	return &SubmitError{Kind: KindInvalidQuantity, Line: line, ProductID: productID, Err: ledger.ErrInvalidQuantity}
}

func inFlight(err error) *SubmitError {
	return &SubmitError{Kind: KindInFlight, Line: -1, Err: err}
}

func persistence(err error) *SubmitError {
	return &SubmitError{Kind: KindPersistence, Line: -1, Err: err}
}

// lineError maps a ledger error for one plan line onto the submit taxonomy.
func lineError(pl PlanLine, err error) *SubmitError {
	e := &SubmitError{
		Line:        pl.Line,
		ProductID:   pl.ProductID,
		ProductName: pl.ProductName,
		Variant:     pl.Variant,
		Requested:   pl.Qty,
		Err:         err,
	}
	var se *ledger.StockError
	switch {
	case errors.As(err, &se):
		e.Kind = KindInsufficientStock
		e.Available = se.Available
	case errors.Is(err, ledger.ErrInsufficientStock):
		e.Kind = KindInsufficientStock
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, ledger.ErrDeleted),
		errors.Is(err, ledger.ErrVariantNotFound),
		errors.Is(err, ledger.ErrVariantRequired):
		e.Kind = KindNotFound
	case errors.Is(err, ledger.ErrInvalidQuantity):
		e.Kind = KindInvalidQuantity
	default:
		// timeouts and storage faults
		e.Kind = KindPersistence
	}
	return e
}
