package statement

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	balancedomain "github.com/smallbiznis/tally/internal/balance/domain"
	"github.com/smallbiznis/tally/internal/clock"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// statementPageSize caps how many ledger rows one statement renders.
const statementPageSize = 250

// Request selects the entity and period a statement covers.
type Request struct {
	OrgID      snowflake.ID
	EntityType string
	EntityID   snowflake.ID
	StartDate  time.Time
	EndDate    time.Time
}

// Service renders credit activity statements as PDF documents.
type Service interface {
	GenerateStatement(ctx context.Context, req Request) (io.Reader, error)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	BalanceSvc balancedomain.Service
	LedgerSvc  ledgerdomain.Service
}

type generator struct {
	log        *zap.Logger
	clock      clock.Clock
	balanceSvc balancedomain.Service
	ledgerSvc  ledgerdomain.Service
}

func New(p Params) Service {
	return &generator{
		log:        p.Log.Named("statement.generator"),
		clock:      p.Clock,
		balanceSvc: p.BalanceSvc,
		ledgerSvc:  p.LedgerSvc,
	}
}

func (g *generator) GenerateStatement(ctx context.Context, req Request) (io.Reader, error) {
	if req.EndDate.IsZero() {
		req.EndDate = g.clock.Now()
	}
	if req.StartDate.IsZero() {
		req.StartDate = req.EndDate.AddDate(0, -1, 0)
	}

	bal, err := g.balanceSvc.GetBalance(ctx, req.OrgID, req.EntityType, req.EntityID)
	if err != nil {
		return nil, err
	}

	history, err := g.ledgerSvc.GetHistory(ctx, req.OrgID, ledgerdomain.HistoryFilter{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		StartDate:  &req.StartDate,
		EndDate:    &req.EndDate,
	}, pagination.Pagination{Page: 1, Limit: statementPageSize})
	if err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Credit Statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(22,
		col.New(6).Add(
			text.New(fmt.Sprintf("Entity: %s %d", req.EntityType, req.EntityID), props.Text{Top: 0}),
			text.New("Period: "+req.StartDate.Format("2006-01-02")+" to "+req.EndDate.Format("2006-01-02"), props.Text{Top: 4}),
			text.New("Generated: "+g.clock.Now().Format("2006-01-02 15:04 MST"), props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Available credits", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(bal.AvailableCredits.StringFixed(2), props.Text{Top: 5, Size: 14, Style: fontstyle.Bold, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(3, "Date", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Type", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Operation", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Balance", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, entry := range history.Transactions {
		amount := entry.Amount.StringFixed(2)
		if !entry.Type.IsCredit() {
			amount = "-" + amount
		}
		operation := ""
		if entry.OperationCode != nil {
			operation = *entry.OperationCode
		}
		m.AddRow(8,
			text.NewCol(3, entry.CreatedAt.Format("2006-01-02 15:04"), props.Text{Size: 9}),
			text.NewCol(3, strings.ReplaceAll(string(entry.Type), "_", " "), props.Text{Size: 9}),
			text.NewCol(2, operation, props.Text{Size: 9}),
			text.NewCol(2, amount, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, entry.NewBalance.StringFixed(2), props.Text{Size: 9, Align: align.Right}),
		)
	}

	if len(history.Transactions) == 0 {
		m.AddRow(10,
			text.NewCol(12, "No activity in this period.", props.Text{Size: 9}),
		)
	}

	m.AddRow(10,
		col.New(8),
		text.NewCol(4, fmt.Sprintf("%d of %d entries shown", len(history.Transactions), history.PageInfo.TotalCount), props.Text{Size: 8, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}
