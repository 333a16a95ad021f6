package gocommand

import (
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	ocpicommand "github.com/goliatone/go-ocpi/command"
	"github.com/goliatone/go-ocpi/core"
	ocpiquery "github.com/goliatone/go-ocpi/query"
)

// Subscriptions holds every dispatcher subscription made by
// RegisterPartyOperations.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterPartyOperations registers and subscribes the party commands and
// queries of service. Nothing stays subscribed when one registration fails.
func RegisterPartyOperations(registry *OperationRegistry, service *core.Service, runnerOpts ...runner.Option) (Subscriptions, error) {
	if service == nil {
		return nil, fmt.Errorf("gocommand: ocpi service is required")
	}
	var subs Subscriptions
	steps := []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) {
			return RegisterCommand(registry, ocpicommand.NewAddPartyCommand(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterCommand(registry, ocpicommand.NewRegisterPartyCommand(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterCommand(registry, ocpicommand.NewRenewCredentialsCommand(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterCommand(registry, ocpicommand.NewUnregisterPartyCommand(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterCommand(registry, ocpicommand.NewSetLocalAccessStatusCommand(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterCommand(registry, ocpicommand.NewSetPartyStatusCommand(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterQuery(registry, ocpiquery.NewGetPartyQuery(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterQuery(registry, ocpiquery.NewListPartiesQuery(service), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterQuery(registry, ocpiquery.NewAuthorizeTokenQuery(service), runnerOpts...)
		},
	}
	for _, step := range steps {
		sub, err := step()
		if err != nil {
			subs.Unsubscribe()
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
