package domain

type Status string

const (
	StatusReceivedByServer  Status = "received_by_server"
	StatusSentToKitchen     Status = "sent_to_kitchen"
	StatusReceivedByKitchen Status = "received_by_kitchen"
	StatusAcceptedByKitchen Status = "accepted_by_kitchen"
	StatusRejectedByKitchen Status = "rejected_by_kitchen"
	StatusPaymentSuccessful Status = "payment_successful"
	StatusPaymentFailed     Status = "payment_failed"
	StatusRefunded          Status = "refunded"
)

// AllStatuses returns every reachable status. Tests rely on this list to
// prove the user-message mapping is total.
func AllStatuses() []Status {
	return []Status{
		StatusReceivedByServer,
		StatusSentToKitchen,
		StatusReceivedByKitchen,
		StatusAcceptedByKitchen,
		StatusRejectedByKitchen,
		StatusPaymentSuccessful,
		StatusPaymentFailed,
		StatusRefunded,
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusReceivedByServer, StatusSentToKitchen, StatusReceivedByKitchen,
		StatusAcceptedByKitchen, StatusRejectedByKitchen,
		StatusPaymentSuccessful, StatusPaymentFailed, StatusRefunded:
		return true
	}
	return false
}

// Terminal statuses admit no further automatic transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejectedByKitchen, StatusPaymentFailed, StatusRefunded:
		return true
	}
	return false
}

// KitchenVisible reports whether an order in this status belongs in the
// restaurant's live view (and in the reconnect replay).
func (s Status) KitchenVisible() bool {
	switch s {
	case StatusSentToKitchen, StatusReceivedByKitchen, StatusAcceptedByKitchen, StatusPaymentSuccessful:
		return true
	}
	return false
}

// UserMessage maps a status to the fixed human-readable text shown to the
// diner. Every status must have a non-empty message.
func (s Status) UserMessage() string {
	switch s {
	case StatusReceivedByServer:
		return "We have received your order."
	case StatusSentToKitchen:
		return "Your order has been sent to the kitchen."
	case StatusReceivedByKitchen:
		return "The kitchen is looking at your order."
	case StatusAcceptedByKitchen:
		return "Your order has been accepted!"
	case StatusRejectedByKitchen:
		return "Sorry, the kitchen could not take your order."
	case StatusPaymentSuccessful:
		return "Payment received. Your food is being prepared."
	case StatusPaymentFailed:
		return "We were unable to take your payment."
	case StatusRefunded:
		return "Your payment has been refunded."
	}
	return ""
}
