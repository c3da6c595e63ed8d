package sequence

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// NodeGenerator derives codes from snowflake ids. It backs tests and the
// worker process, which runs without the API's redis sequence.
type NodeGenerator struct {
	Node *snowflake.Node
}

func (g NodeGenerator) NextCashoutCode(ctx context.Context) (string, error) {
	return g.next("CO")
}

func (g NodeGenerator) NextDepositCode(ctx context.Context) (string, error) {
	return g.next("DEP")
}

func (g NodeGenerator) next(prefix string) (string, error) {
	id := g.Node.Generate()
	return Format(prefix, time.UnixMilli(id.Time()).UTC().Format("060102"), id.Step()+id.Node()<<12)
}
