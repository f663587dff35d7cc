package protocol

// Control addresses understood by the synthesis engine, in the order a
// render sends them.
const (
	AddrNew                   = "/new"
	AddrRenderFolder          = "/render/folder"
	AddrRenderFilename        = "/render/filename"
	AddrRenderDuration        = "/render/duration"
	AddrRenderWait            = "/render/wait"
	AddrRenderID              = "/render/render_id"
	AddrTopologyDefaultParams = "/topology/new_with_default_params"
	AddrTopologyParams        = "/topology/params"
	AddrTopologyCurrentParams = "/topology/new_with_current_params"
	AddrRenderStatic          = "/render/static"
)

// CompletionAddress is the address the engine sends to when the render
// tagged id has finished.
func CompletionAddress(id string) string {
	return "/" + id
}
