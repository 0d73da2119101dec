package order

import (
	"fmt"
)

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 订单状态机。状态只前进，终态不可离开。
type StateMachine struct {
	transitions map[StateTransition]bool
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		{StatusCreated, StatusSubmitted},
		{StatusCreated, StatusRejected},

		{StatusSubmitted, StatusAccepted},
		{StatusSubmitted, StatusRejected},

		{StatusAccepted, StatusPartiallyFilled},
		{StatusAccepted, StatusFilled},
		{StatusAccepted, StatusCanceled},
		{StatusAccepted, StatusRejected}, // 执行时资金/持仓不足
		{StatusAccepted, StatusExpired},

		{StatusPartiallyFilled, StatusFilled},
		{StatusPartiallyFilled, StatusCanceled},
		{StatusPartiallyFilled, StatusRejected},
		{StatusPartiallyFilled, StatusExpired},

		// 终态不能转换（FILLED, CANCELED, REJECTED, EXPIRED）
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法；不允许原地转换。
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// IsFinalState 判断是否是终态
func (sm *StateMachine) IsFinalState(status Status) bool {
	switch status {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// CanCancel 判断当前状态下是否可以撤单
func (sm *StateMachine) CanCancel(status Status) bool {
	switch status {
	case StatusAccepted, StatusPartiallyFilled:
		return true
	default:
		return false
	}
}
