package analyzer

import (
	"encoding/json"
	"io"
	"time"
)

// AddressReport is the swap volume of one address.
type AddressReport struct {
	Address        string `json:"address"`
	Signatures     int    `json:"signatures_scanned"`
	Cached         int    `json:"signatures_cached"`
	Failed         int    `json:"failed_skipped"`
	Missing        int    `json:"missing"`
	Swaps          int    `json:"swap_count"`
	VolumeLamports uint64 `json:"volume_lamports"`
	VolumeSOL      string `json:"volume_sol"`
	Allocation     string `json:"allocation_estimate"`
}

func (r *AddressReport) add(out Outcome) {
	switch {
	case out.Failed:
		r.Failed++
	case out.Missing:
		r.Missing++
	case out.Swap:
		r.Swaps++
		r.VolumeLamports += out.Lamports
	}
}

// Report is the result of one analyzer run.
type Report struct {
	ProgramID           string          `json:"program_id"`
	PointsPerSOL        string          `json:"points_per_sol"`
	Addresses           []AddressReport `json:"addresses"`
	TotalSignatures     int             `json:"total_signatures"`
	TotalSwaps          int             `json:"total_swaps"`
	TotalVolumeLamports uint64          `json:"total_volume_lamports"`
	TotalVolumeSOL      string          `json:"total_volume_sol"`
	TotalAllocation     string          `json:"total_allocation_estimate"`
	GeneratedAt         time.Time       `json:"generated_at"`
	Duration            string          `json:"duration"`
}

// WriteJSON writes r as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
