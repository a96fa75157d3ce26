package handlers

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/mihaisavezi/chat-proxy/internal/providers"
)

const tokenEncoding = "cl100k_base"

// TokenCounter estimates how many tokens a piece of text costs.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	logger *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTokenCounter returns a counter using the cl100k_base encoding. The
// encoding is loaded on first use; if that fails counts fall back to a
// four-characters-per-token estimate.
func NewTokenCounter(logger *slog.Logger) TokenCounter {
	return &tiktokenCounter{logger: logger}
}

func (c *tiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(tokenEncoding)
		if c.err != nil {
			c.logger.Warn("Failed to get tiktoken encoding, estimating token counts", "error", c.err)
		}
	})

	if c.err != nil {
		return (len(text) + 3) / 4
	}

	return len(c.enc.Encode(text, nil, nil))
}

// requestText collects the text of a chat request that the model reads.
func requestText(req providers.ChatRequest) string {
	var b strings.Builder

	write := func(s string) {
		if s == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s)
	}

	write(req.System)
	for _, turn := range req.Turns {
		write(turn.Content)
		for _, call := range turn.ToolCalls {
			write(call.Function.Name)
			write(call.Function.Arguments)
		}
	}
	for _, tool := range req.Tools {
		write(tool.Name)
		write(tool.Description)
		write(string(tool.Parameters))
	}

	return b.String()
}
