package completion

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the prompt size of a transcript for a model.
type TokenCounter interface {
	Count(model string, msgs []ChatMessage) (int, error)
}

// Per-message framing overhead of the chat format.
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
	fallbackEncoding = "cl100k_base"
)

// TiktokenCounter counts tokens with the model's BPE encoding. Encodings are
// loaded on first use and cached.
type TiktokenCounter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewTiktokenCounter creates a TiktokenCounter.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{encodings: make(map[string]*tiktoken.Tiktoken)}
}

// Count estimates the prompt tokens of msgs.
func (c *TiktokenCounter) Count(model string, msgs []ChatMessage) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, err
	}
	n := tokensPerReply
	for _, m := range msgs {
		n += tokensPerMessage
		n += len(enc.EncodeOrdinary(string(m.Role)))
		n += len(enc.EncodeOrdinary(m.Content))
	}
	return n, nil
}

func (c *TiktokenCounter) encoding(model string) (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodings[model]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("completion: load encoding for %s: %w", model, err)
		}
	}
	c.encodings[model] = enc
	return enc, nil
}
