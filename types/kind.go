package types

// Kind is the closed set of resource kinds a template can describe.
type Kind string

const (
	KindRole     Kind = "Role"
	KindService  Kind = "Service"
	KindFunction Kind = "Function"
	KindTrigger  Kind = "Trigger"
	KindGroup    Kind = "Group"
	KindApi      Kind = "Api"
	KindTable    Kind = "Table"
)

// Canonical Type tags
const (
	TagService  = "Fun::Serverless::Service"
	TagFunction = "Fun::Serverless::Function"
	TagGroup    = "Fun::Serverless::Group"
	TagApi      = "Fun::Serverless::Api"
	TagTable    = "Fun::Serverless::Table"
)

// Reserved keys inside a resource mapping. Every other key in a service is a function.
const (
	KeyType       = "Type"
	KeyProperties = "Properties"
	KeyEvents     = "Events"
)

var tagKinds = map[string]Kind{
	TagService:  KindService,
	TagFunction: KindFunction,
	TagGroup:    KindGroup,
	TagApi:      KindApi,
	TagTable:    KindTable,

	"Aliyun::Serverless::Service":           KindService,
	"Aliyun::Serverless::Function":          KindFunction,
	"Aliyun::Serverless::Group":             KindGroup,
	"Aliyun::Serverless::Api":               KindApi,
	"Aliyun::Serverless::TableStore::Table": KindTable,
}

// KindForTag maps a template Type tag to its Kind.
func KindForTag(tag string) (Kind, bool) {
	k, ok := tagKinds[tag]
	return k, ok
}

// TopLevel reports whether resources of this kind are declared at the template root.
func (k Kind) TopLevel() bool {
	switch k {
	case KindService, KindGroup, KindApi, KindTable:
		return true
	default:
		return false
	}
}

// Trigger types
const (
	TriggerTimer      = "Timer"
	TriggerHTTP       = "HTTP"
	TriggerOSS        = "OSS"
	TriggerLog        = "Log"
	TriggerTableStore = "TableStore"
	TriggerMNSTopic   = "MNSTopic"
	TriggerCDN        = "CDN"
)

// TriggerRequiredProperties lists the property keys each trigger type must carry.
var TriggerRequiredProperties = map[string][]string{
	TriggerTimer:      {"CronExpression", "Enable", "Payload"},
	TriggerHTTP:       {"AuthType", "Methods"},
	TriggerOSS:        {"BucketName", "Events"},
	TriggerLog:        {"SourceConfig", "JobConfig", "LogConfig"},
	TriggerTableStore: {"InstanceName", "TableName"},
	TriggerMNSTopic:   {"TopicName"},
	TriggerCDN:        {"EventName", "EventVersion", "Filter"},
}

// Runtimes accepted for functions.
var Runtimes = []string{
	"nodejs6", "nodejs8", "nodejs10", "nodejs12",
	"python2.7", "python3",
	"java8",
	"php7.2",
	"dotnetcore2.1",
	"custom",
}

// KnownRuntime reports whether runtime is in Runtimes.
func KnownRuntime(runtime string) bool {
	for _, r := range Runtimes {
		if r == runtime {
			return true
		}
	}
	return false
}
