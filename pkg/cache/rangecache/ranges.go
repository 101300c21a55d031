/*
 * @Description: 绝对下标区间的合并、差集与分页对齐
 * @Author: 安知鱼
 * @Date: 2025-08-12 09:14:22
 * @LastEditTime: 2026-10-17 20:05:41
 * @LastEditors: 安知鱼
 */
package rangecache

import (
	"fmt"
	"sort"
)

// IndexRange 是闭区间 [Start, End]
type IndexRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r IndexRange) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

func (r IndexRange) Contains(i int) bool {
	return i >= r.Start && i <= r.End
}

func (r IndexRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// PageRange 把页码（从 1 开始）换算为绝对下标区间
func PageRange(page, pageSize int) IndexRange {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	start := (page - 1) * pageSize
	return IndexRange{Start: start, End: start + pageSize - 1}
}

// Merge 返回排序后的最简区间集合，重叠或相邻的区间会被合并
func Merge(ranges []IndexRange) []IndexRange {
	valid := make([]IndexRange, 0, len(ranges))
	for _, r := range ranges {
		if r.Len() > 0 {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Start < valid[j].Start })

	merged := []IndexRange{valid[0]}
	for _, r := range valid[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End+1 {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Subtract 返回 want 中未被 covered 覆盖的子区间，covered 需为 Merge 的结果
func Subtract(want IndexRange, covered []IndexRange) []IndexRange {
	if want.Len() == 0 {
		return nil
	}
	var gaps []IndexRange
	cursor := want.Start
	for _, c := range covered {
		if c.End < cursor {
			continue
		}
		if c.Start > want.End {
			break
		}
		if c.Start > cursor {
			gaps = append(gaps, IndexRange{Start: cursor, End: c.Start - 1})
		}
		cursor = c.End + 1
		if cursor > want.End {
			return gaps
		}
	}
	return append(gaps, IndexRange{Start: cursor, End: want.End})
}

// Covers 判断 want 是否完全落在某个已覆盖区间内
func Covers(covered []IndexRange, want IndexRange) bool {
	return len(Subtract(want, covered)) == 0
}

// clip 把区间集合裁剪到 [0, limit) 之内
func clip(ranges []IndexRange, limit int) []IndexRange {
	out := ranges[:0]
	for _, r := range ranges {
		if r.Start >= limit {
			continue
		}
		if r.End >= limit {
			r.End = limit - 1
		}
		out = append(out, r)
	}
	return out
}

// AlignedPage 返回能够覆盖 gap 的最小对齐页。
// 后端只接受 page/pageSize，gap 起点不是其长度的整数倍时需要放大页长。
func AlignedPage(gap IndexRange) (page, pageSize int) {
	size := gap.Len()
	if size == 0 {
		return 1, 1
	}
	for s := size; ; s++ {
		if gap.Start/s == gap.End/s {
			return gap.Start/s + 1, s
		}
	}
}
