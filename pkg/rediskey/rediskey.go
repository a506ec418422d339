package rediskey

import "fmt"

// Ticket keys
const (
	TicketDetailPrefix = "ticket:detail"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildTicketDetailKey returns "ticket:detail:{ticketID}"
func BuildTicketDetailKey(ticketID string) string {
	return NamespaceKey(TicketDetailPrefix, ticketID)
}
