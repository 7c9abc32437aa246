package agent

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/soyeahso/kaggler/internal/domain"
)

// perMessageOverhead approximates role and framing tokens added by chat APIs.
const perMessageOverhead = 4

// TokenCounter counts tokens in a piece of text.
type TokenCounter interface {
	Count(text string) int
}

// TokenCounterFunc adapts a function to TokenCounter.
type TokenCounterFunc func(text string) int

func (f TokenCounterFunc) Count(text string) int { return f(text) }

// ApproxCounter estimates one token per four bytes.
var ApproxCounter = TokenCounterFunc(func(text string) int {
	return (len(text) + 3) / 4
})

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns a tiktoken counter for the model, falling back to
// cl100k_base for unknown models and to ApproxCounter when no encoding can
// be loaded.
func NewTokenCounter(model string) TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return ApproxCounter
		}
	}
	return tiktokenCounter{enc: enc}
}

// Trimmer keeps the most recent history that fits in a token budget.
type Trimmer struct {
	counter TokenCounter
	budget  int
}

// NewTrimmer creates a trimmer. A budget of zero or less disables trimming.
func NewTrimmer(counter TokenCounter, budget int) *Trimmer {
	if counter == nil {
		counter = ApproxCounter
	}
	return &Trimmer{counter: counter, budget: budget}
}

// Trim returns the suffix of msgs that fits in the budget after reserving
// room for the system prompt. System messages are always kept. An assistant
// message with tool calls and its tool results are kept or dropped together,
// and tool results whose call is no longer in the window are dropped. The
// newest group and the latest user message are always kept, even when they
// alone exceed the budget, and the window never opens on an assistant or
// tool message while an older user message is kept.
func (t *Trimmer) Trim(system string, msgs []domain.Message) []domain.Message {
	groups := groupMessages(msgs)
	if t.budget <= 0 {
		return flatten(groups, nil)
	}

	used := t.counter.Count(system)
	for _, m := range msgs {
		if _, ok := m.(domain.SystemMessage); ok {
			used += t.cost(m)
		}
	}

	keep := make([]bool, len(groups))
	lastUser := -1
	for i := len(groups) - 1; i >= 0; i-- {
		if groups[i].user {
			lastUser = i
			keep[i] = true
			used += t.groupCost(groups[i])
			break
		}
	}

	keptAny := false
	for i := len(groups) - 1; i >= 0; i-- {
		g := groups[i]
		if i == lastUser {
			keptAny = true
			continue
		}
		if g.system || g.orphan {
			continue
		}
		cost := t.groupCost(g)
		if keptAny && used+cost > t.budget {
			if lastUser >= 0 && i > lastUser {
				// Groups between the question and the cut are dropped;
				// the question itself is already kept.
				continue
			}
			break
		}
		used += cost
		keep[i] = true
		keptAny = true
	}

	// Leading assistant and tool groups lose their question; drop them up
	// to the first kept user message.
	for i, g := range groups {
		if g.user && keep[i] {
			break
		}
		if !g.system && i < lastUser {
			keep[i] = false
		}
	}
	for i, g := range groups {
		if g.system {
			keep[i] = true
		}
	}
	return flatten(groups, keep)
}

func (t *Trimmer) groupCost(g messageGroup) int {
	cost := 0
	for _, m := range g.msgs {
		cost += t.cost(m)
	}
	return cost
}

func (t *Trimmer) cost(m domain.Message) int {
	n := perMessageOverhead + t.counter.Count(domain.Text(m))
	if am, ok := m.(domain.AssistantMessage); ok {
		for _, tc := range am.ToolCalls {
			n += t.counter.Count(tc.Name) + t.counter.Count(encodeArgs(tc.Args))
		}
	}
	return n
}

type messageGroup struct {
	msgs   []domain.Message
	system bool
	user   bool
	orphan bool
}

// groupMessages splits history into units that must not be separated: a
// tool-calling assistant message with the results that answer it, or a
// single other message. A tool result with no owning call in the history
// forms an orphan group.
func groupMessages(msgs []domain.Message) []messageGroup {
	var groups []messageGroup
	owner := map[string]int{}
	for _, m := range msgs {
		switch v := m.(type) {
		case domain.AssistantMessage:
			groups = append(groups, messageGroup{msgs: []domain.Message{m}})
			for _, tc := range v.ToolCalls {
				owner[tc.ID] = len(groups) - 1
			}
		case domain.ToolResultMessage:
			if gi, ok := owner[v.ToolCallID]; ok {
				groups[gi].msgs = append(groups[gi].msgs, m)
			} else {
				groups = append(groups, messageGroup{msgs: []domain.Message{m}, orphan: true})
			}
		case domain.SystemMessage:
			groups = append(groups, messageGroup{msgs: []domain.Message{m}, system: true})
		case domain.UserMessage:
			groups = append(groups, messageGroup{msgs: []domain.Message{m}, user: true})
		default:
			groups = append(groups, messageGroup{msgs: []domain.Message{m}})
		}
	}
	return groups
}

func flatten(groups []messageGroup, keep []bool) []domain.Message {
	var out []domain.Message
	for i, g := range groups {
		if keep != nil && !keep[i] {
			continue
		}
		if keep == nil && g.orphan {
			continue
		}
		out = append(out, g.msgs...)
	}
	return out
}
