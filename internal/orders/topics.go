package orders

const (
	TopicOrderCreated       = "order.created"
	TopicStockChanged       = "order.stock.changed"
	TopicOrderStatusChanged = "order.status.changed"
)

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// StockPartitionKey keys stock events by product so projections of one
// product are applied in order.
func StockPartitionKey(productID string) []byte { return []byte("product:" + productID) }
