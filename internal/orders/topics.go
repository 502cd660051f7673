package orders

const (
	TopicOrderCreated     = "order.created"
	TopicOrderAuthorized  = "order.authorized"
	TopicPaymentSubmitted = "order.payment.submitted"
	TopicPaymentReviewed  = "order.payment.reviewed"
	TopicPurchaseReceived = "inventory.purchase.received"
)

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
