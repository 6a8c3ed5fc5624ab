package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Registry         = (*ProviderRegistry)(nil)
	_ KeyLocker        = (*MemoryKeyLocker)(nil)
	_ BackoffScheduler = ExponentialBackoffScheduler{}
	_ CredentialCodec  = JSONCredentialCodec{}
	_ MetricsRecorder  = NopMetricsRecorder{}
	_ ConfigProvider   = (*CfgxConfigProvider)(nil)
	_ OptionsResolver  = GoOptionsResolver{}
	_ RawConfigLoader  = staticRawConfigLoader{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
