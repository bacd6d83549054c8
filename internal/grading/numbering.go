package grading

import (
	"regexp"
	"strconv"
	"strings"
)

// leadingNumber matches ascii question labels such as "3", "3.", "3)", "(3)",
// "[3]", "Q3" and "Q3.2" (only the leading integer is kept).
var leadingNumber = regexp.MustCompile(`^[\s]*[\(\[（【]?\s*[QqNo\.]{0,3}\s*(\d{1,3})`)

var circledDigits = map[rune]int{
	'①': 1, '②': 2, '③': 3, '④': 4, '⑤': 5, '⑥': 6, '⑦': 7, '⑧': 8, '⑨': 9, '⑩': 10,
	'⑪': 11, '⑫': 12, '⑬': 13, '⑭': 14, '⑮': 15, '⑯': 16, '⑰': 17, '⑱': 18, '⑲': 19, '⑳': 20,
}

var cjkDigits = map[rune]int{
	'零': 0, '一': 1, '二': 2, '三': 3, '四': 4, '五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

// QuestionNumber normalizes a question label to its leading integer. It accepts
// plain digits, parenthetical and bracket suffixes, "Q"/"No." prefixes,
// fullwidth digits, circled digits and CJK numeral forms such as "第十二题".
func QuestionNumber(id string) (int, bool) {
	s := strings.TrimSpace(id)
	if s == "" {
		return 0, false
	}

	// fullwidth digits normalize to their ascii counterparts
	s = strings.Map(func(r rune) rune {
		if r >= '０' && r <= '９' {
			return '0' + (r - '０')
		}
		return r
	}, s)

	for _, r := range s {
		if n, ok := circledDigits[r]; ok {
			return n, true
		}
		break
	}

	s = strings.TrimPrefix(s, "第")
	if m := leadingNumber.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return n, true
		}
	}

	if n, ok := parseCJKNumeral(s); ok {
		return n, true
	}
	return 0, false
}

// parseCJKNumeral reads a leading CJK numeral up to 99 ("七", "十", "十三",
// "二十一").
func parseCJKNumeral(s string) (int, bool) {
	runes := []rune(s)
	total, cur, seen := 0, 0, false
	for _, r := range runes {
		if d, ok := cjkDigits[r]; ok {
			cur = d
			seen = true
			continue
		}
		if r == '十' {
			if cur == 0 {
				cur = 1
			}
			total += cur * 10
			cur = 0
			seen = true
			continue
		}
		break
	}
	if !seen {
		return 0, false
	}
	return total + cur, true
}

// pageNumbers returns the normalized question numbers present on a page, in
// occurrence order.
func pageNumbers(p PageResult) []int {
	nums := make([]int, 0, len(p.Questions))
	for _, q := range p.Questions {
		if n, ok := QuestionNumber(q.QuestionID); ok {
			nums = append(nums, n)
		}
	}
	return nums
}

func minMax(nums []int) (int, int, bool) {
	if len(nums) == 0 {
		return 0, 0, false
	}
	lo, hi := nums[0], nums[0]
	for _, n := range nums[1:] {
		if n < lo {
			lo = n
		}
		if n > hi {
			hi = n
		}
	}
	return lo, hi, true
}
