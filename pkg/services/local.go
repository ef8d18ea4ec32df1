package services

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"wardflow/pkg/chat"
	"wardflow/pkg/utils"
)

// LocalGateway is a deterministic stand-in for the model API, used in
// development and tests when Gemini is disabled.
type LocalGateway struct{}

func (LocalGateway) StreamCompletion(ctx context.Context, turns []chat.Turn, onDelta func(string)) (string, error) {
	var last string
	if len(turns) > 0 {
		last = strings.TrimSpace(turns[len(turns)-1].Text)
	}
	if last == "" {
		last = "your question"
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "Here is what I can tell you about: %s\n\n", utils.Truncate(last, 60))
	fmt.Fprintln(b, "Summary:")
	fmt.Fprintln(b, "- Check the roster page for your published shifts.")
	fmt.Fprintln(b, "- Leave requests are reviewed by the ward admin; pending ones can still be edited.")
	fmt.Fprintln(b, "\nNext steps:")
	fmt.Fprintln(b, "1) Confirm the dates you are asking about.")
	fmt.Fprintln(b, "2) If this concerns a swap, include the colleague's name.")
	fmt.Fprintln(b, "3) For payroll or HR matters, contact the staffing office directly.")
	full := b.String()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	i := 0
	for i < len(full) {
		if ctx.Err() != nil {
			return full[:i], ctx.Err()
		}
		step := 16 + r.Intn(32)
		if i+step > len(full) {
			step = len(full) - i
		}
		if onDelta != nil {
			onDelta(full[i : i+step])
		}
		i += step
		sleepWithContext(ctx, 40*time.Millisecond)
	}
	return full, nil
}
