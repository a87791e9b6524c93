// Package stub provides a fast, deterministic chat client for dev and test.
package stub

import (
	"fmt"

	"github.com/charlalabs/charla-gateway/internal/domain"
)

// Client is a deterministic domain.ChatClient. The reply depends only on
// the inbound message and the transcript length, so tests can assert on it.
type Client struct{}

// New constructs a stub client.
func New() *Client { return &Client{} }

// Chat echoes a canned reply derived from the inbound message.
func (c *Client) Chat(_ domain.Context, _ string, history []domain.Message, message string) (string, error) {
	return fmt.Sprintf("claro, me dices %q y vamos %d mensajes jeje", message, len(history)), nil
}
