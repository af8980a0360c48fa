package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const (
	mockYesJSON = `{"code":["bookkeeping","special","special:yes"],"entities":{}}`
	mockNoJSON  = `{"code":["bookkeeping","special","special:no"],"entities":{}}`
)

// MockConversation provides deterministic local replies when no agent is
// reachable.
type MockConversation struct {
	delegate Delegate

	mu     sync.Mutex
	closed bool
}

func NewMockConversation(d Delegate) *MockConversation {
	return &MockConversation{delegate: d}
}

func (c *MockConversation) HandleCommand(ctx context.Context, text string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if strings.HasPrefix(strings.ToLower(text), "yes or no") {
		return c.reply(
			func() error { return c.delegate.SendText(ctx, "Yes or no?", "") },
			func() error { return c.delegate.SendButton(ctx, "Yes", mockYesJSON) },
			func() error { return c.delegate.SendButton(ctx, "No", mockNoJSON) },
			func() error { return c.delegate.SendAskSpecial(ctx, "yesno") },
		)
	}
	return c.reply(
		func() error { return c.delegate.SendText(ctx, fmt.Sprintf("I heard you: %s", text), "") },
		func() error { return c.delegate.SendAskSpecial(ctx, "") },
	)
}

func (c *MockConversation) HandleParsedCommand(ctx context.Context, json string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	if _, err := parsedFrame(json); err != nil {
		return err
	}
	return c.reply(
		func() error { return c.delegate.SendText(ctx, "Consider it done.", "") },
		func() error { return c.delegate.SendAskSpecial(ctx, "") },
	)
}

func (c *MockConversation) HandleThingTalk(ctx context.Context, code string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.reply(
		func() error { return c.delegate.SendText(ctx, fmt.Sprintf("Running: %s", strings.TrimSpace(code)), "") },
		func() error { return c.delegate.SendAskSpecial(ctx, "") },
	)
}

func (c *MockConversation) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *MockConversation) check(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: conversation closed", ErrUnavailable)
	}
	return nil
}

func (c *MockConversation) reply(steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
