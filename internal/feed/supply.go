package feed

const (
	maxSupplyBTC    = 21_000_000
	halvingInterval = 210_000
	initialReward   = 50.0
	blocksPerYear   = 365.25 * 24 * 6
)

// Supply summarises issuance at a given block height.
type Supply struct {
	Height          int64
	Circulating     float64 // BTC
	Remaining       float64
	PercentIssued   float64
	Reward          float64 // current block subsidy in BTC
	BlocksToHalving int64
	DaysToHalving   int64
	HalvingProgress float64 // percent through the current era
	StockToFlow     float64
}

// SupplyAt derives issuance figures from the chain height.
func SupplyAt(height int64) Supply {
	var circulating float64
	reward := initialReward
	for h := int64(0); h < height; h += halvingInterval {
		circulating += float64(min(halvingInterval, height-h)) * reward
		reward /= 2
	}

	era := height / halvingInterval
	current := initialReward / float64(int64(1)<<min(era, 62))
	toHalving := (era+1)*halvingInterval - height

	s := Supply{
		Height:          height,
		Circulating:     circulating,
		Remaining:       maxSupplyBTC - circulating,
		PercentIssued:   circulating / maxSupplyBTC * 100,
		Reward:          current,
		BlocksToHalving: toHalving,
		DaysToHalving:   toHalving * 10 / 60 / 24,
		HalvingProgress: float64(halvingInterval-toHalving) / halvingInterval * 100,
	}
	if annual := current * blocksPerYear; annual > 0 {
		s.StockToFlow = circulating / annual
	}
	return s
}
