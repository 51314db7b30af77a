package internel

import (
	"fmt"
	"sync"

	"plugintx/model"
	"plugintx/pkg"
)

// 参与者注册中心: 插件加载时注册, 卸载时注销, 与具体事务的生命周期无关
type RegistryCenter struct {
	mux          sync.RWMutex
	participants map[string]model.Participant
}

func NewRegistryCenter() *RegistryCenter {
	return &RegistryCenter{
		participants: make(map[string]model.Participant),
	}
}

func (rc *RegistryCenter) Register(participant model.Participant) error {
	rc.mux.Lock()
	defer rc.mux.Unlock()
	if _, ok := rc.participants[participant.ID()]; ok {
		return fmt.Errorf("participant id: %s: %w", participant.ID(), pkg.ErrParticipantExists)
	}
	rc.participants[participant.ID()] = participant
	return nil
}

func (rc *RegistryCenter) Unregister(participantID string) error {
	rc.mux.Lock()
	defer rc.mux.Unlock()
	if _, ok := rc.participants[participantID]; !ok {
		return fmt.Errorf("participant id: %s: %w", participantID, pkg.ErrParticipantNotFound)
	}
	delete(rc.participants, participantID)
	return nil
}

func (rc *RegistryCenter) GetParticipant(participantID string) (model.Participant, error) {
	rc.mux.RLock()
	defer rc.mux.RUnlock()
	participant, ok := rc.participants[participantID]
	if !ok {
		return nil, fmt.Errorf("participant id: %s: %w", participantID, pkg.ErrParticipantNotFound)
	}
	return participant, nil
}

// 批量取参与者, 保持入参顺序; 任何一个缺失都整体失败
func (rc *RegistryCenter) GetParticipantsByIDs(participantIDs ...string) ([]model.Participant, error) {
	rc.mux.RLock()
	defer rc.mux.RUnlock()
	participants := make([]model.Participant, 0, len(participantIDs))
	for _, id := range participantIDs {
		participant, ok := rc.participants[id]
		if !ok {
			return nil, fmt.Errorf("participant id: %s: %w", id, pkg.ErrParticipantNotFound)
		}
		participants = append(participants, participant)
	}
	return participants, nil
}
