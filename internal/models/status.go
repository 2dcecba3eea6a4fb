package models

var nextStatus = map[string][]string{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

var nextPaymentStatus = map[string][]string{
	PaymentStatusPending:  {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:     {PaymentStatusRefunded},
	PaymentStatusFailed:   {},
	PaymentStatusRefunded: {},
}

// CanTransition reports whether status may move from -> to.
func CanTransition(from, to string) bool {
	return contains(nextStatus[from], to)
}

// CanTransitionPayment reports whether payment_status may move from -> to.
func CanTransitionPayment(from, to string) bool {
	return contains(nextPaymentStatus[from], to)
}

// IsTerminal reports whether no status transition leaves s.
func IsTerminal(s string) bool {
	next, ok := nextStatus[s]
	return ok && len(next) == 0
}

// StatusesLeadingTo lists every status with an edge into to.
func StatusesLeadingTo(to string) []string {
	var from []string
	for _, s := range []string{OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled} {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Transition is a guarded state change. The store applies it only when the
// order's current status and payment status are in the From sets (an empty
// set matches anything). An empty To field leaves that column unchanged.
type Transition struct {
	FromStatus  []string
	FromPayment []string
	ToStatus    string
	ToPayment   string
	Restock     bool
}

// Allows reports whether the transition applies to o.
func (t Transition) Allows(o *Order) bool {
	if len(t.FromStatus) > 0 && !contains(t.FromStatus, o.Status) {
		return false
	}
	if len(t.FromPayment) > 0 && !contains(t.FromPayment, o.PaymentStatus) {
		return false
	}
	return true
}
