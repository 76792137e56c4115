// Package wire defines the JSON payload shapes carried inside
// envelope.Envelope (spec.md §6) for the two write-path event kinds, and
// adapts them into the internal request types the posting/reversal
// services operate on.
package wire

import (
	"fmt"
	"time"

	"github.com/withobsrvr/gl-ledger/internal/journal"
	"github.com/withobsrvr/gl-ledger/internal/money"
	"github.com/withobsrvr/gl-ledger/internal/posting"
)

// PostingLine is one wire-format line of a PostingRequest payload. Amounts
// travel as decimal strings and are converted to minor units at this
// boundary (spec.md §9 money representation note).
type PostingLine struct {
	AccountRef string            `json:"account_ref"`
	Debit      string            `json:"debit"`
	Credit     string            `json:"credit"`
	Memo       string            `json:"memo"`
	Dimensions WireDimensions    `json:"dimensions"`
}

// WireDimensions mirrors journal.Dimensions with omitempty pointers.
type WireDimensions struct {
	Customer   *string `json:"customer,omitempty"`
	Vendor     *string `json:"vendor,omitempty"`
	Location   *string `json:"location,omitempty"`
	Job        *string `json:"job,omitempty"`
	Department *string `json:"department,omitempty"`
	Class      *string `json:"class,omitempty"`
	Project    *string `json:"project,omitempty"`
}

// PostingRequest is the PostingRequest payload (spec.md §6).
type PostingRequest struct {
	PostingDate   string        `json:"posting_date"`
	Currency      string        `json:"currency"`
	SourceDocType string        `json:"source_doc_type"`
	SourceDocID   string        `json:"source_doc_id"`
	Description   string        `json:"description"`
	Lines         []PostingLine `json:"lines"`
}

// ReversalRequest is the ReversalRequest payload (spec.md §6).
type ReversalRequest struct {
	OriginalEntryID string `json:"original_entry_id"`
}

// ToServiceRequest converts the wire payload into posting.Request,
// converting decimal amounts to minor units.
func (p PostingRequest) ToServiceRequest() (posting.Request, error) {
	date, err := time.Parse("2006-01-02", p.PostingDate)
	if err != nil {
		return posting.Request{}, fmt.Errorf("wire: invalid posting_date %q: %w", p.PostingDate, err)
	}

	lines := make([]posting.LineRequest, len(p.Lines))
	for i, l := range p.Lines {
		debit, err := money.ParseMinorUnits(l.Debit, 2)
		if err != nil {
			return posting.Request{}, fmt.Errorf("wire: line %d debit: %w", i, err)
		}
		credit, err := money.ParseMinorUnits(l.Credit, 2)
		if err != nil {
			return posting.Request{}, fmt.Errorf("wire: line %d credit: %w", i, err)
		}
		lines[i] = posting.LineRequest{
			AccountRef: l.AccountRef,
			Debit:      debit,
			Credit:     credit,
			Memo:       l.Memo,
			Dimensions: journal.Dimensions{
				Customer:   l.Dimensions.Customer,
				Vendor:     l.Dimensions.Vendor,
				Location:   l.Dimensions.Location,
				Job:        l.Dimensions.Job,
				Department: l.Dimensions.Department,
				Class:      l.Dimensions.Class,
				Project:    l.Dimensions.Project,
			},
		}
	}

	return posting.Request{
		PostingDate:   date,
		Currency:      p.Currency,
		SourceDocType: p.SourceDocType,
		SourceDocID:   p.SourceDocID,
		Description:   p.Description,
		Lines:         lines,
	}, nil
}
