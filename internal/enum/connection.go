package enum

type ConnectionStatus string

const (
	ConnectionActive    ConnectionStatus = "active"
	ConnectionNotActive ConnectionStatus = "not_active"
	ConnectionDisabled  ConnectionStatus = "disabled"
)

func (t ConnectionStatus) String() string {
	return string(t)
}

type MailSecurity string

const (
	MailSecurityNone     MailSecurity = "none"
	MailSecurityTLS      MailSecurity = "tls"
	MailSecurityStartTLS MailSecurity = "startTLS"
)

func (t MailSecurity) String() string {
	return string(t)
}
