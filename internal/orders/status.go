package orders

import "fmt"

type Status string

const (
	StatusCreated        Status = "created"
	StatusPendingPayment Status = "pending_payment"
	StatusFulfilled      Status = "fulfilled"
	StatusCancelled      Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusCreated:        {StatusPendingPayment: true, StatusCancelled: true},
	StatusPendingPayment: {StatusFulfilled: true, StatusCancelled: true},
	StatusFulfilled:      {},
	StatusCancelled:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := validNext[st]; !ok {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}
