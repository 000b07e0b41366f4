package ports

// Launcher starts the instrument-driver executable as a detached process.
// The daemon does not own or supervise the launched process.
type Launcher interface {
	Launch() error
}
