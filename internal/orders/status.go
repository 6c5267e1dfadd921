package orders

type Status string

const (
	// StatusProcessing is the initial state of every order.
	StatusProcessing    Status = "PROCESSING"
	StatusCompleted     Status = "COMPLETED"
	StatusPaymentFailed Status = "PAYMENT_FAILED"
	StatusCancelled     Status = "CANCELLED"
)

var validNext = map[Status]map[Status]bool{
	StatusProcessing:    {StatusCompleted: true, StatusPaymentFailed: true, StatusCancelled: true},
	StatusPaymentFailed: {StatusCancelled: true},
	StatusCompleted:     {},
	StatusCancelled:     {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

// Payment outcomes carried by PaymentProcessed events.
const (
	PaymentSuccess = "SUCCESS"
	PaymentFailed  = "FAILED"
)
