package memory

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/shirou/gopsutil/v4/process"
)

// bytesPerMB はメモリ表示の単位 (MiB) です。
const bytesPerMB = 1024 * 1024

// Sampler はプロセスの常駐メモリ (RSS) をバイト単位で返します。
type Sampler interface {
	Sample(ctx context.Context) (uint64, error)
}

// ProcessSampler は gopsutil を用いて指定プロセスの RSS を取得します。
type ProcessSampler struct {
	proc *process.Process
}

// NewProcessSampler は現在のプロセスを対象とする Sampler を生成します。
func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("プロセス情報の取得に失敗しました: %w", err)
	}
	return &ProcessSampler{proc: proc}, nil
}

// Sample は現在の RSS を返します。
func (s *ProcessSampler) Sample(ctx context.Context) (uint64, error) {
	info, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("メモリ使用量の取得に失敗しました: %w", err)
	}
	return info.RSS, nil
}

// Peak は観測したメモリ使用量の最大値を保持する累積器です。
// 値は単調非減少で、複数の goroutine から同時に Observe しても安全です。
type Peak struct {
	max atomic.Uint64
}

// Observe は sample を記録し、更新後の最大値を返します。
func (p *Peak) Observe(sample uint64) uint64 {
	for {
		current := p.max.Load()
		if sample <= current {
			return current
		}
		if p.max.CompareAndSwap(current, sample) {
			return sample
		}
	}
}

// Value はこれまでの最大値を返します。
func (p *Peak) Value() uint64 {
	return p.max.Load()
}

// MB はバイト数を MiB 単位 (切り捨て) に変換します。
func MB(b uint64) uint64 {
	return b / bytesPerMB
}
