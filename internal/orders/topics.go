package orders

const (
	TopicOrderCreated   = "order.created"
	TopicOrderCommitted = "order.committed"
	TopicOrderDeclined  = "order.declined"
	TopicOrderRefunded  = "order.refunded"
	TopicDeliveryEvents = "courier.tracking"
)

// Partition key = order_id so every event for one order stays ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
