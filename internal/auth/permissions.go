package auth

// Resources and actions used by the platform's permission catalog.
const (
	ResourceUser      = "user"
	ResourceQuiz      = "quiz"
	ResourceRecording = "recording"
	ResourceReport    = "report"
	ResourceRBAC      = "rbac"
)

const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionManage = "manage"
)

// BuiltinPermissions is the predefined catalog ensured at startup. Role
// defaults are seeded by migrations; grants beyond these go through the
// permission administration operations.
var BuiltinPermissions = []Permission{
	{Name: "user.read", Resource: ResourceUser, Action: ActionRead},
	{Name: "user.manage", Resource: ResourceUser, Action: ActionManage},
	{Name: "quiz.read", Resource: ResourceQuiz, Action: ActionRead},
	{Name: "quiz.write", Resource: ResourceQuiz, Action: ActionWrite},
	{Name: "recording.read", Resource: ResourceRecording, Action: ActionRead},
	{Name: "recording.write", Resource: ResourceRecording, Action: ActionWrite},
	{Name: "report.read", Resource: ResourceReport, Action: ActionRead},
	{Name: "rbac.manage", Resource: ResourceRBAC, Action: ActionManage},
	{Name: "all", Resource: Wildcard, Action: Wildcard},
}
