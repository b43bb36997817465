package generate

import (
	"context"
	"strings"

	"github.com/MrWong99/convene/internal/assist"
	"github.com/MrWong99/convene/internal/observe"
	"github.com/MrWong99/convene/pkg/provider/llm"
	"github.com/MrWong99/convene/pkg/types"
)

// Preamble streams a short first-person reaction to the participant's words
// on a fast model while the main turn is still being prepared.
type Preamble struct {
	model llm.Provider
}

// NewPreamble returns a [Preamble] backed by model.
func NewPreamble(model llm.Provider) *Preamble {
	return &Preamble{model: model}
}

// Run streams the preamble for transcript and calls publish with the text
// accumulated so far. Once latch is tripped no further text is published and
// the exchange is abandoned. Failures are logged and otherwise ignored; Run
// returns when the stream ends or is abandoned.
func (p *Preamble) Run(ctx context.Context, transcript string, latch *Latch, publish func(string)) {
	if strings.TrimSpace(transcript) == "" || latch.Tripped() {
		return
	}
	ctx, span := observe.StartSpan(ctx, "generate.preamble")
	defer span.End()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := observe.Logger(ctx)
	ch, err := p.model.StreamCompletion(ctx, llm.CompletionRequest{
		Parts: []types.Part{types.TextPart(assist.PreamblePrompt(transcript))},
	})
	if err != nil {
		log.Debug("generate: preamble failed to start", "err", err)
		return
	}

	var text strings.Builder
	for c := range ch {
		if err := c.Err(); err != nil {
			log.Debug("generate: preamble stream failed", "err", err)
			continue
		}
		if c.Text == "" {
			continue
		}
		text.WriteString(c.Text)
		current := text.String()
		if !latch.Unless(func() { publish(current) }) {
			cancel()
			for range ch {
			}
			return
		}
	}
}
