//go:build !unix

package backend

// nofollowFlag is 0 on platforms without O_NOFOLLOW (e.g. Windows,
// where the byte-range backend doesn't need it).
const nofollowFlag = 0
