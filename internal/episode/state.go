package episode

import "fmt"

// State - фаза цикла генерации эпизодов.
type State int

const (
	AwaitingFirstEpisode State = iota
	GeneratingEpisode
	MergingResult
	AwaitingNextEpisode
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingFirstEpisode:
		return "awaiting_first_episode"
	case GeneratingEpisode:
		return "generating_episode"
	case MergingResult:
		return "merging_result"
	case AwaitingNextEpisode:
		return "awaiting_next_episode"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition описывает переход автомата. Episode - номер эпизода,
// к которому относится новое состояние (для Done - последний эпизод).
type Transition struct {
	From    State
	To      State
	Episode int
	Total   int
	Err     error // только для Failed
}

// Observer получает каждый переход синхронно, в порядке возникновения.
type Observer func(Transition)
