package orders

const (
	TopicOrderEvents   = "orders.events"
	TopicPaymentEvents = "payments.events"
)

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
