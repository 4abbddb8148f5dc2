package assist

import (
	"context"
	"time"
)

// streamText re-renders a finished generation incrementally: fixed-size
// chunks with a fixed inter-chunk delay, so the consumer sees the text
// arrive the way a token stream would. Cancelling ctx halts emission
// immediately; nothing is emitted after the abort.
func streamText(ctx context.Context, text string, size int, delay time.Duration, emit func(string)) error {
	if size <= 0 {
		size = 24
	}

	runes := []rune(text)
	for start := 0; start < len(runes); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		emit(string(runes[start:end]))

		if end < len(runes) && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil
}
