package output

import (
	"sync"
	"time"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
)

const (
	// sendBatchToOutputsRate 批量发送到输出的间隔
	sendBatchToOutputsRate = 50 * time.Millisecond
	// defaultSamplesChannelSize 默认样本通道大小
	defaultSamplesChannelSize = 1000
)

// Manager 管理多个输出插件
type Manager struct {
	outputs []Output
	mu      sync.RWMutex
}

// NewManager 创建新的输出管理器
func NewManager(outputs ...Output) *Manager {
	return &Manager{outputs: outputs}
}

// Start 启动所有输出并开始分发指标。
// 调用方在所有样本写入后关闭 samplesChan；wait 等待分发结束，
// finish 等待分发结束后停止所有输出。
func (m *Manager) Start(samplesChan chan metrics.SampleContainer) (wait func(), finish func(RunStatus), err error) {
	if err := m.startOutputs(); err != nil {
		return nil, nil, err
	}

	wg := &sync.WaitGroup{}
	wg.Add(1)

	sendToOutputs := func(sampleContainers []metrics.SampleContainer) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for _, out := range m.outputs {
			out.AddMetricSamples(sampleContainers)
		}
	}

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(sendBatchToOutputsRate)
		defer ticker.Stop()

		buffer := make([]metrics.SampleContainer, 0, cap(samplesChan))
		for {
			select {
			case sampleContainer, ok := <-samplesChan:
				if !ok {
					// 通道关闭，发送剩余的样本
					if len(buffer) > 0 {
						sendToOutputs(buffer)
					}
					return
				}
				buffer = append(buffer, sampleContainer)
			case <-ticker.C:
				if len(buffer) > 0 {
					sendToOutputs(buffer)
					buffer = make([]metrics.SampleContainer, 0, cap(buffer))
				}
			}
		}
	}()

	wait = wg.Wait
	finish = func(status RunStatus) {
		wait()
		m.stopOutputs(status)
	}

	return wait, finish, nil
}

func (m *Manager) startOutputs() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, out := range m.outputs {
		if err := out.Start(); err != nil {
			// 停止已启动的输出
			for j := 0; j < i; j++ {
				_ = m.outputs[j].Stop()
			}
			return err
		}
		logger.Debug("output started", "output", out.Description())
	}
	return nil
}

func (m *Manager) stopOutputs(status RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, out := range m.outputs {
		out.SetRunStatus(status)
		if err := out.Stop(); err != nil {
			logger.Error("failed to stop output", "output", out.Description(), "error", err)
		}
	}
}

// AddOutput 添加输出，须在 Start 之前调用
func (m *Manager) AddOutput(out Output) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append(m.outputs, out)
}

// GetOutputs 获取所有输出
func (m *Manager) GetOutputs() []Output {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Output, len(m.outputs))
	copy(result, m.outputs)
	return result
}

// NewSamplesChannel 创建新的样本通道
func NewSamplesChannel(size int) chan metrics.SampleContainer {
	if size <= 0 {
		size = defaultSamplesChannelSize
	}
	return make(chan metrics.SampleContainer, size)
}
