package capture

import (
	"fmt"
)

// ringLayout sizes an AF_PACKET mmap ring for a memory budget.
//
// PACKET_MMAP needs frameSize aligned to TPACKET_ALIGNMENT, blockSize a
// multiple of the page size and of frameSize, and blockSize*numBlocks close
// to the budget.
func ringLayout(ringBufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52
	const minBlockSize = 128 * 1024

	if ringBufferMB <= 0 {
		return 0, 0, 0, fmt.Errorf("ring_buffer_mb must be positive, got %d", ringBufferMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap_len must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	blockSize = lcm(pageSize, frameSize)
	if blockSize < minBlockSize {
		blockSize *= (minBlockSize + blockSize - 1) / blockSize
	}

	numBlocks = ringBufferMB * 1024 * 1024 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
