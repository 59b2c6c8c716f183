package stepwise

const (
	SDKAuthor   = "stepwise"
	SDKLanguage = "go"
	SDKVersion  = "0.1.0"

	// schemaVersion is echoed verbatim by the introspection endpoint.
	schemaVersion = "2024-05-24"
)

const (
	defaultAPIOrigin      = "https://api.stepwise.dev"
	defaultEventAPIOrigin = "https://inn.gs"
	devServerOrigin       = "http://127.0.0.1:8288"
	defaultServePath      = "/api/inngest"

	devEventKeyPlaceholder = "NO_EVENT_KEY_SET"
)

// sdkVersionHeader is the X-Inngest-Sdk header value identifying this SDK.
var sdkVersionHeader = SDKLanguage + ":v" + SDKVersion

const (
	headerKeyContentType = "Content-Type"
	headerKeyFramework   = "X-Inngest-Framework"
	headerKeySDK         = "X-Inngest-Sdk"
	headerKeyReqVersion  = "X-Inngest-Req-Version"
	headerKeySignature   = "X-Inngest-Signature"
	headerKeyServerKind  = "X-Inngest-Server-Kind"
	headerKeyNoRetry     = "X-Inngest-No-Retry"
	headerKeyRetryAfter  = "Retry-After"

	serverKindCloud = "cloud"
	serverKindDev   = "dev"
)

const requestVersion = "1"
