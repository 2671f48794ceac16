package ingest

// vpinEstimator is a volume-clock toxicity estimator. Trades fill
// fixed-volume buckets; each completed bucket records its absolute
// buy/sell imbalance, and VPIN is the mean imbalance fraction over the
// last N completed buckets.
type vpinEstimator struct {
	bucketVolume float64
	maxBuckets   int

	curBuy  float64
	curSell float64
	buckets []float64 // |buy-sell|/bucketVolume per completed bucket
}

func newVPINEstimator(bucketVolume float64, maxBuckets int) *vpinEstimator {
	if bucketVolume <= 0 {
		bucketVolume = 100
	}
	if maxBuckets <= 0 {
		maxBuckets = 50
	}
	return &vpinEstimator{bucketVolume: bucketVolume, maxBuckets: maxBuckets}
}

// AddTrade feeds one aggressor-classified trade. Large trades may
// complete several buckets at once.
func (v *vpinEstimator) AddTrade(side string, size float64) {
	for size > 0 {
		room := v.bucketVolume - (v.curBuy + v.curSell)
		fill := size
		if fill > room {
			fill = room
		}
		if side == "buy" {
			v.curBuy += fill
		} else {
			v.curSell += fill
		}
		size -= fill

		if v.curBuy+v.curSell >= v.bucketVolume {
			imb := v.curBuy - v.curSell
			if imb < 0 {
				imb = -imb
			}
			v.buckets = append(v.buckets, imb/v.bucketVolume)
			if len(v.buckets) > v.maxBuckets {
				v.buckets = v.buckets[1:]
			}
			v.curBuy, v.curSell = 0, 0
		}
	}
}

// Value returns the current VPIN in [0,1]; zero before any bucket
// completes.
func (v *vpinEstimator) Value() float64 {
	if len(v.buckets) == 0 {
		return 0
	}
	var sum float64
	for _, b := range v.buckets {
		sum += b
	}
	return sum / float64(len(v.buckets))
}
