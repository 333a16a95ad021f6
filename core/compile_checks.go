package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ PartyStore           = (*MemoryPartyStore)(nil)
	_ PartyLocker          = (*MemoryPartyLocker)(nil)
	_ BackoffPolicy        = ExponentialBackoff{}
	_ ProtocolVariant      = V211Variant{}
	_ ProtocolVariant      = V22Variant{}
	_ CertificateValidator = RejectAllValidator{}
	_ PartyService         = (*Service)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
