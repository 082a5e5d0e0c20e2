// Package generator produces realistic sample payloads for exercising a queue.
package generator

import (
	"fmt"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Command is a message one service addresses to another.
type Command struct {
	ID        string    `json:"id" fake:"{uuid}"`
	Message   string    `json:"message" fake:"{hackerphrase}"`
	Emitter   string    `json:"emitter" fake:"{appname}"`
	Receiver  string    `json:"receiver" fake:"{appname}"`
	Priority  int       `json:"priority" fake:"{number:1,5}"`
	CreatedAt time.Time `json:"created_at" fake:"skip"`
}

// NewCommand returns a random command stamped with the current time.
func NewCommand() *Command {
	var cmd Command
	if err := gofakeit.Struct(&cmd); err != nil {
		return nil
	}
	cmd.CreatedAt = time.Now().UTC()
	return &cmd
}

// NewCommands returns n random commands. Non-positive n yields an empty slice.
func NewCommands(n int) []Command {
	out := make([]Command, 0, max(n, 0))
	for range max(n, 0) {
		if cmd := NewCommand(); cmd != nil {
			out = append(out, *cmd)
		}
	}
	return out
}

// CommandGenerator emits commands from one fixed emitter to a rotating set
// of receivers, numbering messages so consumers can detect gaps.
type CommandGenerator struct {
	mu        sync.Mutex
	emitter   string
	receivers []string
	seq       int
	faker     *gofakeit.Faker
}

// NewCommandGenerator creates a generator for emitter. When no receivers are
// given, three fake application names are picked.
func NewCommandGenerator(emitter string, receivers ...string) *CommandGenerator {
	faker := gofakeit.New(0)
	if len(receivers) == 0 {
		receivers = []string{faker.AppName(), faker.AppName(), faker.AppName()}
	}
	return &CommandGenerator{
		emitter:   emitter,
		receivers: receivers,
		faker:     faker,
	}
}

// Next returns the following command in sequence, stamped with t.
func (g *CommandGenerator) Next(t time.Time) Command {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	return Command{
		ID:        g.faker.UUID(),
		Message:   fmt.Sprintf("Message %d: %s", g.seq, g.faker.HackerPhrase()),
		Emitter:   g.emitter,
		Receiver:  g.receivers[(g.seq-1)%len(g.receivers)],
		Priority:  g.faker.Number(1, 5),
		CreatedAt: t.UTC(),
	}
}

// NextN returns n commands in sequence, all stamped with t.
func (g *CommandGenerator) NextN(t time.Time, n int) []Command {
	out := make([]Command, 0, max(n, 0))
	for range max(n, 0) {
		out = append(out, g.Next(t))
	}
	return out
}

// Sequence reports how many commands the generator has emitted.
func (g *CommandGenerator) Sequence() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}
