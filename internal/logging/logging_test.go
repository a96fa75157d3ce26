package logging_test

import (
	"bytes"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mihaisavezi/chat-proxy/internal/logging"
)

var _ = Describe("Logger", func() {
	Describe("New", func() {
		It("creates a text logger by default", func() {
			var buf bytes.Buffer
			l := logging.New(logging.WithWriter(&buf))
			l.Info("hello", "key", "value")

			Expect(buf.String()).To(ContainSubstring("hello"))
			Expect(buf.String()).To(ContainSubstring("key=value"))
		})

		It("filters debug unless enabled", func() {
			var buf bytes.Buffer
			logging.New(logging.WithWriter(&buf)).Debug("hidden")
			Expect(buf.String()).To(BeEmpty())

			logging.New(logging.WithWriter(&buf), logging.WithDebug(true)).Debug("shown")
			Expect(buf.String()).To(ContainSubstring("shown"))
		})

		It("creates a JSON logger", func() {
			var buf bytes.Buffer
			l := logging.New(logging.WithWriter(&buf), logging.WithJSON(true))
			l.Info("structured", "attempt", 2)

			var parsed map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &parsed)).To(Succeed())
			Expect(parsed["msg"]).To(Equal("structured"))
			Expect(parsed["attempt"]).To(BeNumerically("==", 2))
		})

		It("creates a pretty logger backed by charmbracelet/log", func() {
			var buf bytes.Buffer
			l := logging.New(logging.WithWriter(&buf), logging.WithPretty(true), logging.WithDebug(true))
			l.Debug("pretty output", "provider", "gemini")

			Expect(buf.String()).To(ContainSubstring("pretty output"))
			Expect(buf.String()).To(ContainSubstring("gemini"))
		})

		It("writes to every writer", func() {
			var buf1, buf2 bytes.Buffer
			logging.New(logging.WithWriters(&buf1, &buf2)).Info("multi")

			Expect(buf1.String()).To(ContainSubstring("multi"))
			Expect(buf2.String()).To(ContainSubstring("multi"))
		})
	})
})
