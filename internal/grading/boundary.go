package grading

import (
	"fmt"
	"math"
	"sort"
)

const (
	// DefaultConfirmationThreshold is the confidence under which a boundary is
	// flagged for human confirmation.
	DefaultConfirmationThreshold = 0.8

	// identity-driven detection is selected when at least this fraction of
	// pages carries a usable marker.
	markerCoverageRatio  = 0.2
	usableMarkerMinConf  = 0.6
	switchMinConf        = 0.7
	strongSwitchMinConf  = 0.8
	minPagesBeforeSwitch = 3
)

// DetectorConfig carries the tunables of boundary detection.
type DetectorConfig struct {
	ConfirmationThreshold float64
}

func (c DetectorConfig) threshold() float64 {
	if c.ConfirmationThreshold <= 0 {
		return DefaultConfirmationThreshold
	}
	return c.ConfirmationThreshold
}

// Strategy infers raw page segments from an ordered page slice. Implementations
// are pure and unit-testable in isolation; confidence scoring is shared and
// applied afterwards.
type Strategy interface {
	Name() string
	Detect(pages []PageResult) []segment
}

// segment is a half-open range [start, end) over positions in the sorted page
// slice, plus an optional student key from the detection signal. A strategy
// may override the reported method tag per segment (the uniform fallback).
type segment struct {
	start, end int
	key        string
	method     string
}

// DetectBoundaries covers every page with non-overlapping boundaries plus the
// set of unassignable page indices. Pages are sorted by page index first; the
// caller must not rely on arrival order.
func DetectBoundaries(pages []PageResult, cfg DetectorConfig) ([]Boundary, []int) {
	if len(pages) == 0 {
		return []Boundary{}, []int{}
	}

	sorted := make([]PageResult, len(pages))
	copy(sorted, pages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PageIndex < sorted[j].PageIndex })

	strategy := selectStrategy(sorted)
	segments := strategy.Detect(sorted)

	boundaries := make([]Boundary, 0, len(segments))
	assigned := make(map[int]bool, len(sorted))
	for i, seg := range segments {
		key := seg.key
		if key == "" {
			key = fmt.Sprintf("student_%d", i+1)
		}
		method := strategy.Name()
		if seg.method != "" {
			method = seg.method
		}
		b := Boundary{
			StudentKey: key,
			StartPage:  sorted[seg.start].PageIndex,
			EndPage:    sorted[seg.end-1].PageIndex,
			Method:     method,
		}
		b.Confidence = boundaryConfidence(sorted, seg)
		if method == MethodUniform {
			// uniform partition is the least confident outcome
			b.Confidence = math.Min(b.Confidence, 0.5)
		}
		b.NeedsConfirmation = b.Confidence < cfg.threshold()
		boundaries = append(boundaries, b)
		for p := seg.start; p < seg.end; p++ {
			assigned[sorted[p].PageIndex] = true
		}
	}

	unassigned := make([]int, 0)
	for _, p := range sorted {
		if !assigned[p.PageIndex] {
			unassigned = append(unassigned, p.PageIndex)
		}
	}
	return boundaries, unassigned
}

func selectStrategy(sorted []PageResult) Strategy {
	usable := 0
	for _, p := range sorted {
		if p.Identity != nil && p.Identity.Confidence >= usableMarkerMinConf {
			usable++
		}
	}
	if float64(usable) >= markerCoverageRatio*float64(len(sorted)) && usable > 0 {
		return identityStrategy{}
	}
	return questionCycleStrategy{}
}

// identityStrategy walks pages in order tracking a current student. A switch
// needs either a confident marker after the current student accumulated enough
// pages, or a very confident marker regardless of page count. The asymmetry
// resists a single noisy misread while still reacting to a strong signal.
type identityStrategy struct{}

func (identityStrategy) Name() string { return MethodIdentity }

func (identityStrategy) Detect(pages []PageResult) []segment {
	var segments []segment
	cur := -1 // position where the current student started, -1 before the first marker
	curKey := ""

	for i, p := range pages {
		m := p.Identity
		if m == nil || m.Confidence < usableMarkerMinConf {
			// markerless pages forward-fill into the current student
			continue
		}
		if cur == -1 {
			cur, curKey = i, m.Value
			continue
		}
		if m.Value == curKey {
			continue
		}
		accumulated := i - cur
		if m.Confidence >= strongSwitchMinConf ||
			(m.Confidence >= switchMinConf && accumulated >= minPagesBeforeSwitch) {
			segments = append(segments, segment{start: cur, end: i, key: curKey})
			cur, curKey = i, m.Value
		}
	}
	if cur >= 0 {
		segments = append(segments, segment{start: cur, end: len(pages), key: curKey})
	}
	return segments
}

// questionCycleStrategy declares a boundary where the per-page question
// numbering restarts. The primary signal is a drop of the page minimum to <=2
// after the running maximum reached >=5; weaker corroborated signals (a restart
// against the previous page after a lower running maximum, a large drop after a
// very high maximum, a density jump) also trigger. Nothing fires within the
// first pages of the pile.
type questionCycleStrategy struct{}

func (questionCycleStrategy) Name() string { return MethodQuestionCycle }

func (questionCycleStrategy) Detect(pages []PageResult) []segment {
	var segments []segment
	segStart := 0
	segMax := 0
	prevMin, prevMax := 0, 0
	prevSeen := false
	totalNums := 0
	overallMax := 0

	for i, p := range pages {
		nums := pageNumbers(p)
		totalNums += len(nums)
		lo, hi, ok := minMax(nums)
		if !ok {
			continue
		}
		if hi > overallMax {
			overallMax = hi
		}

		if i >= minPagesBeforeSwitch && i > segStart && prevSeen && isCycleReset(lo, hi, prevMin, prevMax, segMax, len(nums), avgDensity(pages[segStart:i])) {
			segments = append(segments, segment{start: segStart, end: i})
			segStart = i
			segMax = 0
		}

		if hi > segMax {
			segMax = hi
		}
		prevMin, prevMax, prevSeen = lo, hi, true
	}
	segments = append(segments, segment{start: segStart, end: len(pages)})

	if len(segments) > 1 {
		return segments
	}

	// No reset found. When the number of question occurrences is large
	// relative to the highest question number, several students must be
	// present: fall back to a uniform partition.
	if overallMax >= 3 && totalNums >= 2*overallMax {
		students := int(math.Round(float64(totalNums) / float64(overallMax)))
		if students > len(pages) {
			students = len(pages)
		}
		if students >= 2 {
			return uniformPartition(len(pages), students)
		}
	}
	return segments
}

func isCycleReset(lo, hi, prevMin, prevMax, segMax, density int, avg float64) bool {
	switch {
	case lo <= 2 && segMax >= 5:
		return true
	case lo <= 2 && segMax >= 3 && prevMax > lo:
		return true
	case lo <= 4 && segMax >= 8 && prevMin > lo+1:
		return true
	case lo <= 3 && avg > 0 && float64(density) >= 2*avg && prevMin > lo:
		return true
	}
	return false
}

func avgDensity(pages []PageResult) float64 {
	if len(pages) == 0 {
		return 0
	}
	total := 0
	for _, p := range pages {
		total += len(pageNumbers(p))
	}
	return float64(total) / float64(len(pages))
}

// uniformPartition spreads the pile evenly across an estimated student count.
func uniformPartition(pageCount, students int) []segment {
	segments := make([]segment, 0, students)
	base := pageCount / students
	extra := pageCount % students
	start := 0
	for i := 0; i < students; i++ {
		size := base
		if i < extra {
			size++
		}
		segments = append(segments, segment{start: start, end: start + size, method: MethodUniform})
		start += size
	}
	return segments
}

// boundaryConfidence averages three independent sub-scores: the marker
// confidence at the start page (0.5 when absent), the continuity of the
// question-number sequence inside the boundary, and the clarity of the leading
// edge against the previous page.
func boundaryConfidence(sorted []PageResult, seg segment) float64 {
	marker := 0.5
	start := sorted[seg.start]
	if start.Identity != nil {
		marker = clamp01(start.Identity.Confidence)
	}

	continuity := sequenceContinuity(sorted[seg.start:seg.end])

	edge := 0.5
	if start.Identity != nil {
		edge = 1.0
		if seg.start > 0 {
			prev := sorted[seg.start-1]
			if prev.Identity != nil && prev.Identity.Value == start.Identity.Value {
				edge = 0.0
			}
		}
	}

	return clamp01((marker + continuity + edge) / 3.0)
}

// sequenceContinuity is the fraction of adjacent question numbers, read in page
// then occurrence order, differing by exactly one. Neutral when fewer than two
// numbers exist.
func sequenceContinuity(pages []PageResult) float64 {
	var nums []int
	for _, p := range pages {
		nums = append(nums, pageNumbers(p)...)
	}
	if len(nums) < 2 {
		return 0.5
	}
	hits := 0
	for i := 1; i < len(nums); i++ {
		if nums[i]-nums[i-1] == 1 {
			hits++
		}
	}
	return float64(hits) / float64(len(nums)-1)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
