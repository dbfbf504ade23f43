// Package mocks holds hand-written test doubles for the relay interfaces.
package mocks

import (
	"sync"

	tbapi "github.com/OvyFlash/telegram-bot-api"
)

// TbAPIMock is a mock implementation of relay.TbAPI
type TbAPIMock struct {
	// GetUpdatesChanFunc mocks the GetUpdatesChan method.
	GetUpdatesChanFunc func(config tbapi.UpdateConfig) tbapi.UpdatesChannel

	// SendFunc mocks the Send method.
	SendFunc func(c tbapi.Chattable) (tbapi.Message, error)

	// RequestFunc mocks the Request method.
	RequestFunc func(c tbapi.Chattable) (*tbapi.APIResponse, error)

	// GetChatFunc mocks the GetChat method.
	GetChatFunc func(config tbapi.ChatInfoConfig) (tbapi.ChatFullInfo, error)

	// calls tracks calls to the methods.
	calls struct {
		GetUpdatesChan []struct{ Config tbapi.UpdateConfig }
		Send           []struct{ C tbapi.Chattable }
		Request        []struct{ C tbapi.Chattable }
		GetChat        []struct{ Config tbapi.ChatInfoConfig }
	}
	lock sync.RWMutex
}

// GetUpdatesChan calls GetUpdatesChanFunc.
func (m *TbAPIMock) GetUpdatesChan(config tbapi.UpdateConfig) tbapi.UpdatesChannel {
	m.lock.Lock()
	m.calls.GetUpdatesChan = append(m.calls.GetUpdatesChan, struct{ Config tbapi.UpdateConfig }{config})
	m.lock.Unlock()
	return m.GetUpdatesChanFunc(config)
}

// Send calls SendFunc.
func (m *TbAPIMock) Send(c tbapi.Chattable) (tbapi.Message, error) {
	m.lock.Lock()
	m.calls.Send = append(m.calls.Send, struct{ C tbapi.Chattable }{c})
	m.lock.Unlock()
	return m.SendFunc(c)
}

// Request calls RequestFunc.
func (m *TbAPIMock) Request(c tbapi.Chattable) (*tbapi.APIResponse, error) {
	m.lock.Lock()
	m.calls.Request = append(m.calls.Request, struct{ C tbapi.Chattable }{c})
	m.lock.Unlock()
	return m.RequestFunc(c)
}

// GetChat calls GetChatFunc.
func (m *TbAPIMock) GetChat(config tbapi.ChatInfoConfig) (tbapi.ChatFullInfo, error) {
	m.lock.Lock()
	m.calls.GetChat = append(m.calls.GetChat, struct{ Config tbapi.ChatInfoConfig }{config})
	m.lock.Unlock()
	return m.GetChatFunc(config)
}

// SendCalls gets all the calls that were made to Send.
func (m *TbAPIMock) SendCalls() []struct{ C tbapi.Chattable } {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return append([]struct{ C tbapi.Chattable }{}, m.calls.Send...)
}

// RequestCalls gets all the calls that were made to Request.
func (m *TbAPIMock) RequestCalls() []struct{ C tbapi.Chattable } {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return append([]struct{ C tbapi.Chattable }{}, m.calls.Request...)
}

// GetChatCalls gets all the calls that were made to GetChat.
func (m *TbAPIMock) GetChatCalls() []struct{ Config tbapi.ChatInfoConfig } {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return append([]struct{ Config tbapi.ChatInfoConfig }{}, m.calls.GetChat...)
}

// ResetCalls resets all recorded calls.
func (m *TbAPIMock) ResetCalls() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.calls.GetUpdatesChan = nil
	m.calls.Send = nil
	m.calls.Request = nil
	m.calls.GetChat = nil
}
