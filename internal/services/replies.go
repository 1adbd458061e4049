package services

import (
	"math/rand/v2"

	"github.com/mindcare/triage-server/internal/models"
)

var replyBuckets = map[models.RiskLevel][]string{
	models.RiskHigh: {
		"我非常在意你现在的安全。你并不孤单，我们的咨询师正在赶来，你也可以随时拨打心理援助热线 400-161-9995。",
		"谢谢你愿意告诉我这些，这需要很大的勇气。请先待在安全的地方，专业的咨询师马上会和你联系。",
		"听起来你正在经历非常难熬的时刻。你的生命很重要，我们已经安排人员尽快回应你。",
	},
	models.RiskMedium: {
		"听起来你最近承受了很多，愿意多说一说让你最难受的是什么吗？",
		"这些感受很真实，也很辛苦。咨询师会尽快和你交流，你不用一个人扛着。",
		"谢谢你说出来。我们可以一起慢慢理一理，你现在最需要的支持是什么？",
	},
	models.RiskLow: {
		"我在这里听你说，可以再讲讲发生了什么吗？",
		"有这样的情绪很正常，愿意和我聊聊让你在意的事情吗？",
		"谢谢你的分享，我们可以慢慢来。",
	},
	models.RiskMinimal: {
		"很高兴听到你感觉好一些了，有需要随时回来找我们。",
		"谢谢你的信任，照顾好自己。",
	},
}

// ReplySelector picks an automatic reply for a risk level.
// The bucket is chosen by level; the candidate by intN.
type ReplySelector struct {
	intN func(n int) int
}

// NewReplySelector uses intN to pick within a bucket; nil means math/rand/v2.
func NewReplySelector(intN func(n int) int) *ReplySelector {
	if intN == nil {
		intN = rand.IntN
	}
	return &ReplySelector{intN: intN}
}

// Select returns a reply for level. Unknown levels use the low bucket.
func (s *ReplySelector) Select(level models.RiskLevel) string {
	bucket, ok := replyBuckets[level]
	if !ok {
		bucket = replyBuckets[models.RiskLow]
	}
	i := s.intN(len(bucket))
	if i < 0 || i >= len(bucket) {
		i = 0
	}
	return bucket[i]
}

// Candidates lists the replies for level.
func Candidates(level models.RiskLevel) []string {
	return append([]string(nil), replyBuckets[level]...)
}
